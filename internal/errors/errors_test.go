package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrInvalidKey", ErrInvalidKey},
		{"ErrKeyNotFound", ErrKeyNotFound},
		{"ErrUnknownContainerType", ErrUnknownContainerType},
		{"ErrCryptoFailure", ErrCryptoFailure},
		{"ErrPanicCaught", ErrPanicCaught},
		{"ErrNetwork", ErrNetwork},
		{"ErrSignatureInvalid", ErrSignatureInvalid},
		{"ErrArtifactShaMismatch", ErrArtifactShaMismatch},
		{"ErrNotFound", ErrNotFound},
		{"ErrParse", ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Error("sentinel error should not be nil")
			}
			if tt.err.Error() == "" {
				t.Error("sentinel error should have a message")
			}
		})
	}
}

func TestCryptoError(t *testing.T) {
	baseErr := errors.New("padding invalid")
	cryptoErr := NewCryptoError("page-decrypt", baseErr)

	if cryptoErr.Error() != "crypto page-decrypt: cipher operation failed: padding invalid" {
		t.Errorf("unexpected error message: %s", cryptoErr.Error())
	}

	if !errors.Is(cryptoErr, ErrCryptoFailure) {
		t.Error("CryptoError should wrap ErrCryptoFailure")
	}

	cryptoErrNil := NewCryptoError("bootid-decrypt", nil)
	if cryptoErrNil.Err == nil {
		t.Error("NewCryptoError should still wrap ErrCryptoFailure even with nil err")
	}
}

func TestFileError(t *testing.T) {
	baseErr := errors.New("permission denied")
	fileErr := NewFileError("open", "/path/to/file", baseErr)

	if fileErr.Error() != "open /path/to/file: permission denied" {
		t.Errorf("unexpected error message: %s", fileErr.Error())
	}

	if fileErr.Unwrap() != baseErr {
		t.Error("Unwrap should return underlying error")
	}

	fileErrNil := NewFileError("stat", "/some/path", nil)
	if fileErrNil.Error() != "stat /some/path failed" {
		t.Errorf("unexpected error message for nil: %s", fileErrNil.Error())
	}
}

func TestValidationError(t *testing.T) {
	validErr := NewValidationError("games.CHU.key", "expected 16 bytes, got 8")

	expected := "invalid key material: games.CHU.key: expected 16 bytes, got 8"
	if validErr.Error() != expected {
		t.Errorf("unexpected error message: %s", validErr.Error())
	}
	if !errors.Is(validErr, ErrInvalidKey) {
		t.Error("ValidationError should wrap ErrInvalidKey")
	}
}

func TestHeaderError(t *testing.T) {
	baseErr := errors.New("decode failed")
	headerErr := NewHeaderError("container_type", baseErr)

	if headerErr.Error() != "header container_type: decode failed" {
		t.Errorf("unexpected error message: %s", headerErr.Error())
	}

	if headerErr.Unwrap() != baseErr {
		t.Error("Unwrap should return underlying error")
	}
}

func TestIs(t *testing.T) {
	if !Is(ErrNotFound, ErrNotFound) {
		t.Error("Is should return true for same error")
	}

	if Is(ErrNotFound, ErrNetwork) {
		t.Error("Is should return false for different errors")
	}
}

func TestAs(t *testing.T) {
	cryptoErr := NewCryptoError("test", errors.New("test"))

	var target *CryptoError
	if !As(cryptoErr, &target) {
		t.Error("As should find CryptoError")
	}

	if target.Op != "test" {
		t.Errorf("unexpected Op: %s", target.Op)
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base")
	wrapped := Wrap(baseErr, "context")

	if wrapped.Error() != "context: base" {
		t.Errorf("unexpected wrapped message: %s", wrapped.Error())
	}

	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestConvenienceFunctions(t *testing.T) {
	if !IsNotFound(ErrNotFound) {
		t.Error("IsNotFound should return true for ErrNotFound")
	}

	if IsNotFound(ErrNetwork) {
		t.Error("IsNotFound should return false for other errors")
	}

	if !IsNetwork(ErrNetwork) {
		t.Error("IsNetwork should return true for ErrNetwork")
	}
}
