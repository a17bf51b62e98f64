// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := dmerr.New(
		dmerr.CodeConfigValidateInvalidValue,
		"invalid model configuration",
		dmerr.FieldOrgID("org-123"),
		dmerr.Field("provider", "openai"),
	)

	require.Error(t, err)
	assert.Equal(t, dmerr.CodeConfigValidateInvalidValue, dmerr.CodeOf(err))
	assert.True(t, dmerr.HasCode(err, dmerr.CodeConfigValidateInvalidValue))

	fields := dmerr.FieldsOf(err)
	assert.Equal(t, "org-123", fields["org_id"])
	assert.Equal(t, "openai", fields["provider"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := dmerr.Errorf(dmerr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, dmerr.CodeStoreDatabaseFailure, dmerr.CodeOf(err))
	assert.Contains(t, err.Error(), "write failed")
}

// ---------------------------------------------------------------------------
// Wrap / With
// ---------------------------------------------------------------------------

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("record missing")
	err := dmerr.Wrap(
		root,
		dmerr.CodeStoreSubmissionGetNotFound,
		"loading submission",
		dmerr.Field("submission_id", "sub-42"),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, dmerr.IsNotFound(err))
	assert.Equal(t, "sub-42", dmerr.FieldsOf(err)["submission_id"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, dmerr.Wrap(nil, dmerr.CodeStoreDatabaseFailure, "noop"))
	assert.NoError(t, dmerr.Wrapf(nil, dmerr.CodeStoreDatabaseFailure, "noop %d", 1))
	assert.NoError(t, dmerr.With(nil, dmerr.FieldOrgID("x")))
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	err := dmerr.With(stderrors.New("plain"), dmerr.FieldRequestID("req-1"))
	assert.Equal(t, dmerr.CodeServerInternalFailure, dmerr.CodeOf(err))
	assert.Equal(t, "req-1", dmerr.FieldsOf(err)["request_id"])
}

func TestNestedWrapInnermostCodePersists(t *testing.T) {
	root := stderrors.New("io error")
	l1 := dmerr.Wrap(root, dmerr.CodeStoreDatabaseFailure, "store layer")
	l2 := dmerr.Wrap(l1, dmerr.CodeServerInternalFailure, "server layer")

	assert.Equal(t, dmerr.CodeStoreDatabaseFailure, dmerr.CodeOf(l2))
	assert.ErrorIs(t, l2, root)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, dmerr.Code(""), dmerr.CodeOf(stderrors.New("plain")))
	assert.Nil(t, dmerr.FieldsOf(stderrors.New("plain")))
	assert.Equal(t, dmerr.Code(""), dmerr.CodeOf(nil))
}

// ---------------------------------------------------------------------------
// Classification helpers
// ---------------------------------------------------------------------------

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   dmerr.Code
		status int
		check  func(error) bool
	}{
		{name: "submission not found", code: dmerr.CodeStoreSubmissionGetNotFound, status: http.StatusNotFound, check: dmerr.IsNotFound},
		{name: "conversation not found", code: dmerr.CodeConversationNotFound, status: http.StatusNotFound, check: dmerr.IsNotFound},
		{name: "invalid value", code: dmerr.CodeConfigValidateInvalidValue, status: http.StatusBadRequest, check: dmerr.IsInvalidInput},
		{name: "guard syntax", code: dmerr.CodeGuardExecutionSyntax, status: http.StatusBadRequest, check: dmerr.IsInvalidInput},
		{name: "unauthorized", code: dmerr.CodeServerAuthUnauthorized, status: http.StatusUnauthorized, check: dmerr.IsUnauthorized},
		{name: "forbidden", code: dmerr.CodeServerAuthForbidden, status: http.StatusForbidden, check: dmerr.IsUnauthorized},
		{name: "tool denied", code: dmerr.CodeAgentToolAccessDenied, status: http.StatusForbidden, check: dmerr.IsUnauthorized},
		{name: "guard timeout", code: dmerr.CodeGuardExecutionTimeout, status: http.StatusGatewayTimeout, check: dmerr.IsTimeout},
		{name: "upstream failure", code: dmerr.CodeProviderUpstreamFailure, status: http.StatusBadGateway, check: dmerr.IsUpstreamFailure},
		{name: "internal", code: dmerr.CodeServerInternalFailure, status: http.StatusInternalServerError, check: func(err error) bool { return !dmerr.IsNotFound(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dmerr.New(tt.code, "boom")
			assert.Equal(t, tt.status, dmerr.HTTPStatus(err))
			assert.True(t, tt.check(err))
		})
	}
}

func TestClassificationOnPlainError(t *testing.T) {
	err := stderrors.New("plain")
	assert.False(t, dmerr.IsNotFound(err))
	assert.False(t, dmerr.IsInvalidInput(err))
	assert.False(t, dmerr.IsUnauthorized(err))
	assert.False(t, dmerr.IsTimeout(err))
	assert.False(t, dmerr.IsUpstreamFailure(err))
	assert.Equal(t, http.StatusInternalServerError, dmerr.HTTPStatus(err))
}

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("a")
	b := stderrors.New("b")
	err := dmerr.Join(a, b)
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)
	assert.Equal(t, dmerr.CodeServerInternalFailure, dmerr.CodeOf(err))
}
