package security

import (
	"bytes"
	"testing"
)

func TestNewKeyWrapper(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kw, err := NewKeyWrapper(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewKeyWrapper() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && kw == nil {
				t.Error("NewKeyWrapper() returned nil without error")
			}
		})
	}
}

func TestWrapUnwrapRoundtrip(t *testing.T) {
	kek := make([]byte, 32)
	copy(kek, []byte("test-kek-32-bytes-long-!!!!!!!!!"))

	kw, err := NewKeyWrapper(kek)
	if err != nil {
		t.Fatalf("Failed to create KeyWrapper: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{
			name:      "32-byte DEK",
			plaintext: bytes.Repeat([]byte{0xAB}, 32),
		},
		{
			name:      "short key material",
			plaintext: []byte("hello world"),
		},
		{
			name:      "binary data",
			plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := kw.Wrap(tt.plaintext)
			if err != nil {
				t.Fatalf("Wrap() error = %v", err)
			}

			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("Ciphertext should not equal plaintext")
			}

			unwrapped, err := kw.Unwrap(ciphertext)
			if err != nil {
				t.Fatalf("Unwrap() error = %v", err)
			}

			if !bytes.Equal(unwrapped, tt.plaintext) {
				t.Errorf("Unwrapped data does not match original.\nGot:  %v\nWant: %v", unwrapped, tt.plaintext)
			}
		})
	}
}

func TestWrap_Errors(t *testing.T) {
	kek := make([]byte, 32)
	kw, _ := NewKeyWrapper(kek)

	tests := []struct {
		name      string
		plaintext []byte
		wantErr   bool
	}{
		{
			name:      "empty data",
			plaintext: []byte{},
			wantErr:   true,
		},
		{
			name:      "nil data",
			plaintext: nil,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kw.Wrap(tt.plaintext)
			if (err != nil) != tt.wantErr {
				t.Errorf("Wrap() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnwrap_Errors(t *testing.T) {
	kek := make([]byte, 32)
	kw, _ := NewKeyWrapper(kek)

	tests := []struct {
		name       string
		ciphertext []byte
		wantErr    bool
	}{
		{
			name:       "empty data",
			ciphertext: []byte{},
			wantErr:    true,
		},
		{
			name:       "nil data",
			ciphertext: nil,
			wantErr:    true,
		},
		{
			name:       "too short data",
			ciphertext: []byte{0x01, 0x02},
			wantErr:    true,
		},
		{
			name:       "corrupted data",
			ciphertext: bytes.Repeat([]byte("x"), 100),
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kw.Unwrap(tt.ciphertext)
			if (err != nil) != tt.wantErr {
				t.Errorf("Unwrap() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnwrapWithWrongKey(t *testing.T) {
	kek1 := make([]byte, 32)
	copy(kek1, []byte("key-one-32-bytes-long-!!!!!!!!!!"))

	kek2 := make([]byte, 32)
	copy(kek2, []byte("key-two-32-bytes-long-!!!!!!!!!!"))

	kw1, _ := NewKeyWrapper(kek1)
	kw2, _ := NewKeyWrapper(kek2)

	dek, err := NewInstanceDEK()
	if err != nil {
		t.Fatalf("NewInstanceDEK() error = %v", err)
	}

	ciphertext, err := kw1.Wrap(dek)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	// GCM authentication must reject the wrong KEK.
	_, err = kw2.Unwrap(ciphertext)
	if err == nil {
		t.Error("Unwrap() should fail with wrong key")
	}
}

func TestNewInstanceDEK(t *testing.T) {
	dek1, err := NewInstanceDEK()
	if err != nil {
		t.Fatalf("NewInstanceDEK() error = %v", err)
	}
	if len(dek1) != 32 {
		t.Errorf("NewInstanceDEK() returned key of length %d, want 32", len(dek1))
	}

	dek2, err := NewInstanceDEK()
	if err != nil {
		t.Fatalf("NewInstanceDEK() error = %v", err)
	}
	if bytes.Equal(dek1, dek2) {
		t.Error("Two generated DEKs should not be equal")
	}
}
