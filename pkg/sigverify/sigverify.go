// Package sigverify checks minisign detached signatures on downloaded
// core and EFI payloads, binding each signature to the version it was
// planned for via the signature's trusted comment. This binding is the
// anti-downgrade mechanism: a validly-signed but stale payload, served
// by a compromised or outdated mirror, is rejected because its trusted
// comment cannot match the version the planner decided to install.
package sigverify

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jedisct1/go-minisign"

	cerrors "github.com/clipos/updater/pkg/errors"
	"github.com/clipos/updater/pkg/version"
)

// LoadPublicKey reads a minisign public key file (the two-line
// "untrusted comment: ..." plus base64 key format minisign -G produces).
func LoadPublicKey(path string) (minisign.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return minisign.PublicKey{}, cerrors.Wrap(cerrors.Config, fmt.Sprintf("reading public key %s", path), err)
	}
	pk, err := minisign.DecodePublicKey(string(raw))
	if err != nil {
		return minisign.PublicKey{}, cerrors.Wrap(cerrors.Config, fmt.Sprintf("parsing public key %s", path), err)
	}
	return pk, nil
}

// Verify checks sigBytes (a detached minisign signature) against the
// full contents of payload, then checks that the signature's trusted
// comment names exactly expected. payload must be fully buffered: the
// signature is not valid for a partially-downloaded body, and checking
// it against a stream that may still be truncated would defeat the
// point of verifying at all.
func Verify(payload []byte, sigBytes []byte, pubKey minisign.PublicKey, expected version.Version) error {
	slog.Info("sigverify_start", "expected_version", expected.String())

	sig, err := minisign.DecodeSignature(string(sigBytes))
	if err != nil {
		slog.Error("sigverify_decode_failed", "error", err)
		return cerrors.Wrap(cerrors.VerifyBadSig, "decoding signature", err)
	}

	ok, err := pubKey.Verify(payload, sig)
	if err != nil {
		slog.Error("sigverify_bad_signature", "error", err)
		return cerrors.Wrap(cerrors.VerifyBadSig, "signature does not match payload", err)
	}
	if !ok {
		slog.Error("sigverify_bad_signature")
		return cerrors.New(cerrors.VerifyBadSig, "signature does not match payload")
	}

	// The decoded TrustedComment is the whole signature line, including
	// its "trusted comment: " label.
	comment := strings.TrimPrefix(sig.TrustedComment, "trusted comment: ")
	if err := checkTrustedComment(comment, expected); err != nil {
		return err
	}

	slog.Info("sigverify_complete", "version", expected.String())
	return nil
}

// checkTrustedComment enforces the anti-downgrade binding: the signed
// comment must name exactly the version the planner decided to install.
func checkTrustedComment(comment string, expected version.Version) error {
	comment = strings.TrimSpace(comment)
	got, err := version.Parse(comment)
	if err != nil {
		slog.Error("sigverify_comment_unparseable", "comment", comment, "error", err)
		return cerrors.Wrap(cerrors.VerifyWrongComment, fmt.Sprintf("trusted comment %q is not a version", comment), err)
	}
	if !got.Equal(expected) {
		slog.Error("sigverify_wrong_comment", "expected", expected.String(), "got", got.String())
		return cerrors.New(cerrors.VerifyWrongComment,
			fmt.Sprintf("signature trusted comment names %s, expected %s", got, expected))
	}
	return nil
}

// VerifyReader buffers r fully before delegating to Verify.
func VerifyReader(payload io.Reader, sigBytes []byte, pubKey minisign.PublicKey, expected version.Version) error {
	buf, err := io.ReadAll(payload)
	if err != nil {
		return cerrors.Wrap(cerrors.Io, "buffering payload for signature verification", err)
	}
	return Verify(buf, sigBytes, pubKey, expected)
}
