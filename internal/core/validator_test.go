package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushengine/internal/types"
)

func strPtr(s string) *string { return &s }

func TestValidator_NewJob(t *testing.T) {
	v := NewValidator(discardLogger())

	tests := []struct {
		name      string
		in        types.NewJob
		wantCode  types.ErrorCode
		wantField string
	}{
		{"valid", types.NewJob{Title: "t", Body: "b", ImageURL: strPtr("https://cdn.example.com/a.png")}, "", ""},
		{"valid without image", types.NewJob{Title: "t", Body: "b"}, "", ""},
		{"missing title", types.NewJob{Body: "b"}, types.ErrCodeValidationMissingField, "title"},
		{"missing body", types.NewJob{Title: "t"}, types.ErrCodeValidationMissingField, "body"},
		{"title too long", types.NewJob{Title: string(make([]byte, 201)), Body: "b"}, types.ErrCodeValidationInvalidBody, "title"},
		{"relative image", types.NewJob{Title: "t", Body: "b", ImageURL: strPtr("/a.png")}, types.ErrCodeValidationInvalidURL, "image_url"},
		{"ftp image", types.NewJob{Title: "t", Body: "b", ImageURL: strPtr("ftp://host/a.png")}, types.ErrCodeValidationInvalidURL, "image_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.in)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)

			details, ok := appErr.Details["validation_errors"].([]ValidationError)
			require.True(t, ok)
			require.NotEmpty(t, details)
			assert.Equal(t, tt.wantField, details[0].Field)
		})
	}
}

func TestValidator_ReportsEveryField(t *testing.T) {
	err := NewValidator(nil).ValidateStruct(types.NewJob{})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	details := appErr.Details["validation_errors"].([]ValidationError)
	assert.Len(t, details, 2)
	assert.Equal(t, "title is required", details[0].Message)
}

func TestTagToErrorCode(t *testing.T) {
	assert.Equal(t, string(types.ErrCodeValidationMissingField), tagToErrorCode("required"))
	assert.Equal(t, string(types.ErrCodeValidationInvalidURL), tagToErrorCode("http_url"))
	assert.Equal(t, string(types.ErrCodeValidationInvalidBody), tagToErrorCode("max"))
}
