package domain

import (
	"errors"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:      "chunk_size",
		Value:      0,
		Constraint: ">= 1",
		Message:    "chunk size must be positive",
	}

	got := err.Error()
	if got == "" {
		t.Error("Error() should not return empty string")
	}

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestConversionError(t *testing.T) {
	tests := []struct {
		name string
		err  *ConversionError
		want string
	}{
		{
			name: "with field",
			err: &ConversionError{
				Layer: "parcels",
				Field: "owner_name",
				Err:   errors.New("unmappable type"),
			},
			want: "conversion error in layer parcels, field owner_name: unmappable type",
		},
		{
			name: "with offset",
			err: &ConversionError{
				Layer:  "roads",
				Offset: 15000,
				Err:    errors.New("corrupt geometry"),
			},
			want: "conversion error in layer roads near record 15000: corrupt geometry",
		},
		{
			name: "layer only",
			err:  NewConversionError("rivers", errors.New("cannot open")),
			want: "conversion error in layer rivers: cannot open",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, tt.err.Err) {
				t.Error("Unwrap should return the underlying error")
			}
		})
	}
}

func TestNewConversionErrorOffset(t *testing.T) {
	err := NewConversionError("parcels", errors.New("boom"))
	if err.Offset != -1 {
		t.Errorf("expected unknown offset -1, got %d", err.Offset)
	}
}

func TestStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  *StorageError
	}{
		{
			name: "with key",
			err: &StorageError{
				Operation: "download",
				Key:       "data.gpkg",
				Err:       errors.New("network error"),
			},
		},
		{
			name: "without key",
			err: &StorageError{
				Operation: "list",
				Err:       errors.New("access denied"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}
			if !errors.Is(tt.err, tt.err.Err) {
				t.Error("Unwrap should return the underlying error")
			}
		})
	}
}

func TestSentinelChains(t *testing.T) {
	if !errors.Is(ErrSourceNotFound, ErrNotFound) {
		t.Error("ErrSourceNotFound should wrap ErrNotFound")
	}
	if !errors.Is(ErrLayerNotFound, ErrNotFound) {
		t.Error("ErrLayerNotFound should wrap ErrNotFound")
	}

	cfgErr := &ConfigError{Field: "output_dir", Message: "required"}
	if !errors.Is(cfgErr, ErrInvalidInput) {
		t.Error("ConfigError should unwrap to ErrInvalidInput")
	}
}
