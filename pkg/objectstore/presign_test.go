package objectstore

import (
	"testing"
	"time"
)

func TestPresignerVerifyObjectAcceptsOwnSignature(t *testing.T) {
	p := NewPresigner("topsecret")
	sig, expiresAt := p.SignObject("acme", "GET", "uploads", "k.txt", time.Minute, 0, "")

	if err := p.VerifyObject("acme", "GET", "uploads", "k.txt", expiresAt, 0, "", sig); err != nil {
		t.Fatalf("VerifyObject() error = %v", err)
	}
}

func TestPresignerVerifyObjectRejectsTamperedKey(t *testing.T) {
	p := NewPresigner("topsecret")
	sig, expiresAt := p.SignObject("acme", "GET", "uploads", "k.txt", time.Minute, 0, "")

	if err := p.VerifyObject("acme", "GET", "uploads", "other.txt", expiresAt, 0, "", sig); err != ErrSignatureInvalid {
		t.Fatalf("VerifyObject() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestPresignerVerifyObjectRejectsExpired(t *testing.T) {
	p := NewPresigner("topsecret")
	sig, expiresAt := p.SignObject("acme", "GET", "uploads", "k.txt", -1*time.Minute, 0, "")

	if err := p.VerifyObject("acme", "GET", "uploads", "k.txt", expiresAt, 0, "", sig); err != ErrSignatureInvalid {
		t.Fatalf("VerifyObject() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestPresignerVerifyObjectDifferentSecretsDisagree(t *testing.T) {
	p1 := NewPresigner("secret-one")
	p2 := NewPresigner("secret-two")
	sig, expiresAt := p1.SignObject("acme", "GET", "uploads", "k.txt", time.Minute, 0, "")

	if err := p2.VerifyObject("acme", "GET", "uploads", "k.txt", expiresAt, 0, "", sig); err != ErrSignatureInvalid {
		t.Fatalf("VerifyObject() with wrong secret error = %v, want ErrSignatureInvalid", err)
	}
}

func TestPresignerVerifyObjectHonorsMaxBytesAndContentType(t *testing.T) {
	p := NewPresigner("topsecret")
	sig, expiresAt := p.SignObject("acme", "PUT", "uploads", "k.txt", time.Minute, 1024, "image/png")

	if err := p.VerifyObject("acme", "PUT", "uploads", "k.txt", expiresAt, 1024, "image/png", sig); err != nil {
		t.Fatalf("VerifyObject() error = %v", err)
	}
	if err := p.VerifyObject("acme", "PUT", "uploads", "k.txt", expiresAt, 2048, "image/png", sig); err != ErrSignatureInvalid {
		t.Fatalf("VerifyObject() with mismatched maxBytes error = %v, want ErrSignatureInvalid", err)
	}
}

func TestPresignerEmptySecretNeverValidates(t *testing.T) {
	p := NewPresigner("")
	sig, expiresAt := p.SignObject("acme", "GET", "uploads", "k.txt", time.Minute, 0, "")

	if err := p.VerifyObject("acme", "GET", "uploads", "k.txt", expiresAt, 0, "", sig); err != ErrSignatureInvalid {
		t.Fatalf("VerifyObject() with empty secret error = %v, want ErrSignatureInvalid", err)
	}
}

func TestPresignerVerifyTransformAcceptsOwnSignature(t *testing.T) {
	p := NewPresigner("topsecret")
	spec := TransformSpec{Width: 200, Height: 100, Format: "webp", Quality: 80}
	sig, expiresAt := p.SignTransform("acme", "uploads", "k.jpg", time.Minute, spec)

	if err := p.VerifyTransform("acme", "uploads", "k.jpg", expiresAt, spec, sig); err != nil {
		t.Fatalf("VerifyTransform() error = %v", err)
	}
}

func TestPresignerVerifyTransformRejectsAlteredSpec(t *testing.T) {
	p := NewPresigner("topsecret")
	spec := TransformSpec{Width: 200, Height: 100, Format: "webp", Quality: 80}
	sig, expiresAt := p.SignTransform("acme", "uploads", "k.jpg", time.Minute, spec)

	altered := spec
	altered.Width = 400
	if err := p.VerifyTransform("acme", "uploads", "k.jpg", expiresAt, altered, sig); err != ErrSignatureInvalid {
		t.Fatalf("VerifyTransform() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestPresignerEmptySecretNeverValidatesTransform(t *testing.T) {
	p := NewPresigner("")
	spec := TransformSpec{Width: 200, Format: "webp"}
	sig, expiresAt := p.SignTransform("acme", "uploads", "k.jpg", time.Minute, spec)

	if err := p.VerifyTransform("acme", "uploads", "k.jpg", expiresAt, spec, sig); err != ErrSignatureInvalid {
		t.Fatalf("VerifyTransform() with empty secret error = %v, want ErrSignatureInvalid", err)
	}
}
