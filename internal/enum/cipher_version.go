package enum

type CipherVersion string

const (
	// CipherNone marks legacy rows written before field encryption existed.
	CipherNone CipherVersion = ""
	// CipherV1 is AES-256-GCM with an argon2id-derived key.
	CipherV1 CipherVersion = "v1"
)

func (t CipherVersion) String() string {
	return string(t)
}
