package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// Encryption algorithm names
const (
	AES256GCM        = "AES-256-GCM"
	ChaCha20Poly1305 = "ChaCha20-Poly1305"
)

// ChunkSize is the maximum plaintext size of one sealed chunk
const ChunkSize = 64 * 1024

const (
	magic       = "TLK"
	version     = 1
	saltSize    = 16
	prefixSize  = 7
	keySize     = 32
	headerSize  = len(magic) + 1 + 1 + 3 + saltSize + prefixSize
	frameSize   = 5
	maxLogN     = 22
	flagFinal   = 1
	flagPartial = 0
)

// maxReadMemory bounds the scrypt memory a stream header may request unless
// the configured parameters need more
const maxReadMemory = 64 << 20

var algorithmIDs = map[string]byte{
	AES256GCM:        1,
	ChaCha20Poly1305: 2,
}

var (
	// ErrCorrupt is returned when an encrypted stream fails authentication,
	// which includes decrypting with the wrong password
	ErrCorrupt = errors.New("encrypted stream is corrupt")
	// ErrTruncated is returned when an encrypted stream ends before its
	// final chunk
	ErrTruncated = errors.New("encrypted stream is truncated")
)

// KDFParams are the scrypt cost parameters. N must be a power of two.
type KDFParams struct {
	N int `yaml:"n" json:"n"`
	R int `yaml:"r" json:"r"`
	P int `yaml:"p" json:"p"`
}

// DefaultKDFParams returns the interactive-login scrypt parameters
func DefaultKDFParams() KDFParams {
	return KDFParams{N: 32768, R: 8, P: 1}
}

// work is the relative scrypt cost of k
func (k KDFParams) work() int {
	return k.N * k.R * k.P
}

// memory is the scrypt memory needed for k in bytes
func (k KDFParams) memory() int {
	return 128 * k.N * k.R
}

func (k KDFParams) validate() error {
	if k.N < 2 || k.N&(k.N-1) != 0 || bits.Len(uint(k.N))-1 > maxLogN {
		return fmt.Errorf("scrypt N must be a power of two between 2 and 2^%d", maxLogN)
	}
	if k.R < 1 || k.R > 255 || k.P < 1 || k.P > 255 {
		return errors.New("scrypt r and p must be between 1 and 255")
	}
	return nil
}

// Encryption is a password based, chunked authenticated encryption. Each
// stream starts with a header carrying the algorithm, the scrypt parameters,
// a random salt and a random nonce prefix; the header is authenticated with
// every chunk. Chunk nonces are the prefix, a big endian counter and a final
// flag, so reordering, truncation and appending are all detected.
type Encryption struct {
	algorithm  string
	protection security.PasswordProtection
	kdf        KDFParams
}

// NewEncryption returns an encryption transformation. An empty algorithm
// selects AES-256-GCM. The algorithm and KDF parameters apply to writing;
// reading takes them from the stream header.
func NewEncryption(algorithm string, protection security.PasswordProtection, kdf KDFParams) (*Encryption, error) {
	name, err := canonicalAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if protection == nil {
		return nil, errors.New("encryption requires a password protection")
	}
	if err := kdf.validate(); err != nil {
		return nil, err
	}
	return &Encryption{algorithm: name, protection: protection, kdf: kdf}, nil
}

func canonicalAlgorithm(algorithm string) (string, error) {
	if algorithm == "" {
		return AES256GCM, nil
	}
	for name := range algorithmIDs {
		if strings.EqualFold(name, algorithm) {
			return name, nil
		}
	}
	return "", fmt.Errorf("unsupported encryption algorithm %q", algorithm)
}

// Algorithm returns the algorithm used for writing
func (e *Encryption) Algorithm() string {
	return e.algorithm
}

// Apply implements Transformation
func (e *Encryption) Apply(sink store.Sink) store.Sink {
	return store.SinkFunc(func() (io.WriteCloser, error) {
		header := make([]byte, headerSize)
		n := copy(header, magic)
		header[n] = version
		header[n+1] = algorithmIDs[e.algorithm]
		header[n+2] = byte(bits.Len(uint(e.kdf.N)) - 1)
		header[n+3] = byte(e.kdf.R)
		header[n+4] = byte(e.kdf.P)
		if _, err := rand.Read(header[n+5:]); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}

		aead, err := e.newAEAD(security.UsageWrite, e.algorithm, e.kdf, header)
		if err != nil {
			return nil, err
		}

		out, err := sink.Create()
		if err != nil {
			return nil, err
		}
		if _, err := out.Write(header); err != nil {
			store.Abort(out)
			return nil, fmt.Errorf("failed to write encryption header: %w", err)
		}
		w := &sealWriter{
			out:  out,
			aead: aead,
			aad:  header,
			buf:  make([]byte, 0, ChunkSize),
		}
		copy(w.prefix[:], header[headerSize-prefixSize:])
		return newLayeredWriter(w, w, out), nil
	})
}

// Unapply implements Transformation
func (e *Encryption) Unapply(source store.Source) store.Source {
	return store.SourceFunc(func() (io.ReadCloser, error) {
		in, err := source.Open()
		if err != nil {
			return nil, err
		}
		r, err := e.newOpenReader(in)
		if err != nil {
			in.Close()
			return nil, err
		}
		return newLayeredReader(r, nil, in), nil
	})
}

func (e *Encryption) newOpenReader(in io.Reader) (*openReader, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(in, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	n := len(magic)
	if string(header[:n]) != magic || header[n] != version {
		return nil, fmt.Errorf("%w: unknown header", ErrCorrupt)
	}
	var algorithm string
	for name, id := range algorithmIDs {
		if id == header[n+1] {
			algorithm = name
		}
	}
	if algorithm == "" {
		return nil, fmt.Errorf("%w: unknown algorithm", ErrCorrupt)
	}
	kdf, err := headerKDF(header)
	if err != nil {
		return nil, err
	}
	// the header is not authenticated before the key is derived
	if err := e.checkReadCost(kdf); err != nil {
		return nil, err
	}
	aead, err := e.newAEAD(security.UsageRead, algorithm, kdf, header)
	if err != nil {
		return nil, err
	}
	r := &openReader{in: in, aead: aead, aad: header}
	copy(r.prefix[:], header[headerSize-prefixSize:])
	return r, nil
}

func headerKDF(header []byte) (KDFParams, error) {
	n := len(magic)
	logN := int(header[n+2])
	if logN > maxLogN {
		return KDFParams{}, fmt.Errorf("%w: scrypt cost too high", ErrCorrupt)
	}
	kdf := KDFParams{N: 1 << logN, R: int(header[n+3]), P: int(header[n+4])}
	if err := kdf.validate(); err != nil {
		return KDFParams{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return kdf, nil
}

// checkReadCost rejects headers asking for more scrypt memory or work than
// the configured or default parameters allow
func (e *Encryption) checkReadCost(kdf KDFParams) error {
	if kdf.memory() > max(e.kdf.memory(), maxReadMemory) {
		return fmt.Errorf("%w: scrypt memory too high", ErrCorrupt)
	}
	limit := max(e.kdf.work(), DefaultKDFParams().work())
	if kdf.work() > limit {
		return fmt.Errorf("%w: scrypt cost too high", ErrCorrupt)
	}
	return nil
}

// newAEAD derives the key for header and returns the cipher
func (e *Encryption) newAEAD(usage security.Usage, algorithm string, kdf KDFParams, header []byte) (cipher.AEAD, error) {
	salt := header[len(magic)+5 : len(magic)+5+saltSize]

	password, err := e.protection.Password(usage)
	if err != nil {
		return nil, err
	}
	defer security.Wipe(password)
	key, err := scrypt.Key(password, salt, kdf.N, kdf.R, kdf.P, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer security.Wipe(key)

	switch algorithm {
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

func chunkNonce(prefix [prefixSize]byte, counter uint32, final bool) []byte {
	nonce := make([]byte, prefixSize+5)
	copy(nonce, prefix[:])
	binary.BigEndian.PutUint32(nonce[prefixSize:], counter)
	if final {
		nonce[prefixSize+4] = flagFinal
	}
	return nonce
}

type sealWriter struct {
	out     io.Writer
	aead    cipher.AEAD
	aad     []byte
	prefix  [prefixSize]byte
	counter uint32
	buf     []byte
	closed  bool
	err     error
}

func (w *sealWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	if w.err != nil {
		return 0, w.err
	}
	n := 0
	for len(p) > 0 {
		// A full buffer is only sealed once more data arrives so that the
		// last chunk is always the one sealed by Close.
		if len(w.buf) == ChunkSize {
			if w.err = w.seal(false); w.err != nil {
				return n, w.err
			}
		}
		m := min(ChunkSize-len(w.buf), len(p))
		w.buf = append(w.buf, p[:m]...)
		p = p[m:]
		n += m
	}
	return n, nil
}

func (w *sealWriter) seal(final bool) error {
	flag := byte(flagPartial)
	if final {
		flag = flagFinal
	}
	sealed := w.aead.Seal(nil, chunkNonce(w.prefix, w.counter, final), w.buf, w.aad)
	frame := make([]byte, frameSize, frameSize+len(sealed))
	frame[0] = flag
	binary.BigEndian.PutUint32(frame[1:], uint32(len(sealed)))
	if _, err := w.out.Write(append(frame, sealed...)); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	w.counter++
	if w.counter == 0 && !final {
		return errors.New("encrypted stream too long")
	}
	return nil
}

// Close seals the final chunk. It does not close the underlying writer.
func (w *sealWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	w.err = w.seal(true)
	security.Wipe(w.buf[:cap(w.buf)])
	return w.err
}

type openReader struct {
	in      io.Reader
	aead    cipher.AEAD
	aad     []byte
	prefix  [prefixSize]byte
	counter uint32
	plain   []byte
	final   bool
	err     error
}

func (r *openReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.err = r.next()
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *openReader) next() error {
	if r.final {
		var one [1]byte
		_, err := io.ReadFull(r.in, one[:])
		switch {
		case errors.Is(err, io.EOF):
			return io.EOF
		case err == nil:
			return fmt.Errorf("%w: trailing data", ErrCorrupt)
		default:
			return err
		}
	}

	var frame [frameSize]byte
	if _, err := io.ReadFull(r.in, frame[:]); err != nil {
		return truncated(err)
	}
	flag := frame[0]
	size := binary.BigEndian.Uint32(frame[1:])
	if flag != flagPartial && flag != flagFinal {
		return fmt.Errorf("%w: bad chunk flag", ErrCorrupt)
	}
	if size < uint32(r.aead.Overhead()) || size > uint32(ChunkSize+r.aead.Overhead()) {
		return fmt.Errorf("%w: bad chunk size", ErrCorrupt)
	}
	sealed := make([]byte, size)
	if _, err := io.ReadFull(r.in, sealed); err != nil {
		return truncated(err)
	}
	final := flag == flagFinal
	plain, err := r.aead.Open(sealed[:0], chunkNonce(r.prefix, r.counter, final), sealed, r.aad)
	if err != nil {
		return ErrCorrupt
	}
	r.counter++
	r.final = final
	r.plain = plain
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}
