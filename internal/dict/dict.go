// Package dict maps words to dense ids for lookup tables.
package dict

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrUnknownWord = errors.New("dict: unknown word in frozen dictionary")
	ErrBadID       = errors.New("dict: id out of range")
	ErrState       = errors.New("dict: invalid unknown-word setup")
)

// PairSeparator splits the two halves of a ReadSentencePair line.
const PairSeparator = "|||"

// Config controls how words are keyed.
type Config struct {
	// Normalize lowercases words and strips combining marks
	// (NFD, remove Mn, NFC) before lookup.
	Normalize bool
}

func DefaultConfig() Config {
	return Config{}
}

// Dict assigns ids in first-seen order. Once frozen it no longer grows;
// unseen words map to the unknown word if one is set and panic otherwise.
type Dict struct {
	cfg    Config
	words  []string
	ids    map[string]int
	frozen bool
	unk    int
}

func New(cfg Config) *Dict {
	return &Dict{cfg: cfg, ids: make(map[string]int), unk: -1}
}

func (d *Dict) key(word string) string {
	if !d.cfg.Normalize {
		return word
	}
	tform := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(tform, strings.ToLower(word))
	if err != nil {
		return strings.ToLower(word)
	}
	return out
}

// Size is the number of distinct words.
func (d *Dict) Size() int { return len(d.words) }

func (d *Dict) Frozen() bool { return d.frozen }

func (d *Dict) Freeze() { d.frozen = true }

// Contains reports whether word already has an id.
func (d *Dict) Contains(word string) bool {
	_, ok := d.ids[d.key(word)]
	return ok
}

// Convert returns the id of word, assigning the next id if the dictionary
// is not frozen.
func (d *Dict) Convert(word string) int {
	k := d.key(word)
	if id, ok := d.ids[k]; ok {
		return id
	}
	if d.frozen {
		unknownWords.Inc()
		if d.unk >= 0 {
			return d.unk
		}
		panic(fmt.Errorf("%w: %q", ErrUnknownWord, word))
	}
	id := len(d.words)
	d.words = append(d.words, k)
	d.ids[k] = id
	return id
}

// Word returns the word with the given id.
func (d *Dict) Word(id int) string {
	if id < 0 || id >= len(d.words) {
		panic(fmt.Errorf("%w: %d of %d", ErrBadID, id, len(d.words)))
	}
	return d.words[id]
}

// SetUnk makes word, added if needed, the target of every unseen word. The
// dictionary must be frozen and SetUnk may be called once.
func (d *Dict) SetUnk(word string) {
	if !d.frozen {
		panic(fmt.Errorf("%w: SetUnk before Freeze", ErrState))
	}
	if d.unk >= 0 {
		panic(fmt.Errorf("%w: unknown word already set to %q", ErrState, d.words[d.unk]))
	}
	d.frozen = false
	d.unk = d.Convert(word)
	d.frozen = true
}

// Unk returns the unknown-word id, or -1.
func (d *Dict) Unk() int { return d.unk }

// ReadSentence converts whitespace separated words.
func ReadSentence(line string, d *Dict) []int {
	fields := strings.Fields(line)
	out := make([]int, len(fields))
	for i, w := range fields {
		out[i] = d.Convert(w)
	}
	return out
}

// ReadSentencePair splits line on PairSeparator and converts the halves
// with their own dictionaries.
func ReadSentencePair(line string, src, tgt *Dict) ([]int, []int, error) {
	a, b, ok := strings.Cut(line, PairSeparator)
	if !ok {
		return nil, nil, fmt.Errorf("missing %q in %q", PairSeparator, line)
	}
	return ReadSentence(a, src), ReadSentence(b, tgt), nil
}

// LoadCorpus reads one sentence per non-empty line of path.
func LoadCorpus(path string, d *Dict) ([][]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out [][]int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out = append(out, ReadSentence(line, d))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("sentences", len(out)).Int("words", d.Size()).Msg("corpus loaded")
	return out, nil
}

type snapshot struct {
	Words     []string `cbor:"1,keyasint"`
	Frozen    bool     `cbor:"2,keyasint"`
	Unk       int      `cbor:"3,keyasint"`
	Normalize bool     `cbor:"4,keyasint"`
}

func (d *Dict) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(snapshot{Words: d.words, Frozen: d.frozen, Unk: d.unk, Normalize: d.cfg.Normalize})
}

func (d *Dict) UnmarshalBinary(data []byte) error {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode dictionary: %w", err)
	}
	if s.Unk < -1 || s.Unk >= len(s.Words) {
		return fmt.Errorf("%w: unknown word id %d of %d", ErrBadID, s.Unk, len(s.Words))
	}
	ids := make(map[string]int, len(s.Words))
	for i, w := range s.Words {
		if _, dup := ids[w]; dup {
			return fmt.Errorf("failed to decode dictionary: duplicate word %q", w)
		}
		ids[w] = i
	}
	*d = Dict{cfg: Config{Normalize: s.Normalize}, words: s.Words, ids: ids, frozen: s.Frozen, unk: s.Unk}
	return nil
}
