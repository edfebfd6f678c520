package codec

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// HashScheme names one of the native parser's password encodings (§4.1.2).
type HashScheme int

const (
	SHA HashScheme = iota
	SSHA
	MD5
	SMD5
	Crypt
	CryptMD5
)

// ErrCryptUnavailable is returned when a Crypt/CryptMD5 value is requested
// but no crypt(3)-compatible bridge is available on this host (§7,
// CryptUnavailable).
var ErrCryptUnavailable = errors.New("crypt(3) bridge unavailable")

// HashPassword turns a cleartext password into the literal attribute value
// the native parser emits for the given scheme, e.g. "{SSHA}<base64>".
func HashPassword(scheme HashScheme, cleartext string) (string, error) {
	switch scheme {
	case SHA:
		sum := sha1.Sum([]byte(cleartext))
		return "{SHA}" + EncodeBase64(sum[:]), nil
	case SSHA:
		salt := randomSalt(4)
		h := sha1.New()
		h.Write([]byte(cleartext))
		h.Write(salt)
		combined := append(h.Sum(nil), salt...)
		return "{SSHA}" + EncodeBase64(combined), nil
	case MD5:
		sum := md5.Sum([]byte(cleartext))
		return "{MD5}" + EncodeBase64(sum[:]), nil
	case SMD5:
		salt := randomSalt(4)
		h := md5.New()
		h.Write([]byte(cleartext))
		h.Write(salt)
		combined := append(h.Sum(nil), salt...)
		return "{SMD5}" + EncodeBase64(combined), nil
	case Crypt:
		hash, err := cryptBridge(cleartext, randomSaltChars(2))
		if err != nil {
			return "", err
		}
		return "{CRYPT}" + hash, nil
	case CryptMD5:
		hash, err := cryptMD5Bridge(cleartext, randomSaltChars(8))
		if err != nil {
			return "", err
		}
		return "{CRYPT}" + hash, nil
	default:
		return "", errors.Errorf("unknown hash scheme %d", scheme)
	}
}

func randomSalt(n int) []byte {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return buf
}

const saltAlphabet = "./ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomSaltChars(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}
	return string(out)
}

// cryptBridge and cryptMD5Bridge shell out to the system crypt(3) front-end
// (openssl's "passwd" subcommand, present on virtually every Unix) rather
// than reimplementing classic DES-crypt/MD5-crypt in Go. This keeps the
// parser's crypt encodings working without cgo; when the front-end binary
// cannot be found, ErrCryptUnavailable surfaces so the caller can report a
// parse error on that one value (§7).
func cryptBridge(cleartext, salt string) (string, error) {
	return runOpenSSLPasswd("-crypt", cleartext, salt)
}

func cryptMD5Bridge(cleartext, salt string) (string, error) {
	return runOpenSSLPasswd("-1", cleartext, salt)
}

func runOpenSSLPasswd(mode, cleartext, salt string) (string, error) {
	path, err := exec.LookPath("openssl")
	if err != nil {
		return "", ErrCryptUnavailable
	}
	cmd := exec.Command(path, "passwd", mode, "-salt", salt, cleartext)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", errors.Wrap(ErrCryptUnavailable, err.Error())
	}
	result := strings.TrimSpace(out.String())
	if result == "" {
		return "", ErrCryptUnavailable
	}
	return result, nil
}

// ParsedHash splits a "{SCHEME}rest" literal attribute value produced by
// HashPassword, or ok=false if value does not carry a recognised scheme tag.
func ParsedHash(value string) (scheme string, rest string, ok bool) {
	if !strings.HasPrefix(value, "{") {
		return "", "", false
	}
	end := strings.IndexByte(value, '}')
	if end < 0 {
		return "", "", false
	}
	return value[1:end], value[end+1:], true
}
