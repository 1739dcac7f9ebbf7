package behavior

import (
	"math/rand"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// Backspace is the correction key emitted inside a typo burst.
const Backspace = '\b'

// -- keyboardNeighbors maps characters to their adjacent keys on a QWERTY layout --
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// -- commonBigrams holds frequent English letter pairs typed with a practiced rhythm --
var commonBigrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true, "en": true, "at": true,
}

// KeyTiming carries the two timing components of a single key event.
type KeyTiming struct {
	// PressDelay is the pause before the key goes down, measured from the
	// previous key's release.
	PressDelay time.Duration
	// HoldDuration is how long the key stays down.
	HoldDuration time.Duration
}

// Keystroke is one entry of a generated typing sequence.
type Keystroke struct {
	Key    rune
	Timing KeyTiming
	// Typo marks the wrong character and the Backspace of an
	// error-and-correction burst. The intended character that follows is
	// not marked.
	Typo bool
}

// KeystrokeModel computes per-character typing cadence from a words-per-
// minute base rate, digraph familiarity, character class and accumulated
// fatigue. It also decides where typos occur and what correcting them looks
// like. The model is pure computation, cannot fail, and belongs to a single
// session; its fatigue history is never shared.
type KeystrokeModel struct {
	cfg     Config
	rng     *rand.Rand
	log     *zap.Logger
	wpm     float64
	history *Ring[KeyTiming]
}

// NewKeystrokeModel constructs a model typing at wpm words per minute. A
// non-positive wpm falls back to the midpoint of the configured typing speed
// range; a nil rng is replaced with a time-seeded one.
func NewKeystrokeModel(cfg Config, wpm float64, rng *rand.Rand, logger *zap.Logger) *KeystrokeModel {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if wpm <= 0 {
		wpm = cfg.TypingSpeedRange.Sample(nil)
	}
	cfg.FinalizeSessionPersona(rng)
	return &KeystrokeModel{
		cfg:     cfg,
		rng:     rng,
		log:     logger.Named("keystroke"),
		wpm:     wpm,
		history: NewRing[KeyTiming](cfg.TypingHistoryCap),
	}
}

// SetTypingSpeed changes the base words-per-minute rate mid-session, for
// example after a profile's learned speed drifts.
func (m *KeystrokeModel) SetTypingSpeed(wpm float64) {
	if wpm > 0 {
		m.wpm = wpm
	}
}

// SetTypoRate overrides the per-character typo probability, typically with
// the active profile's error rate. Values outside [0, 1] are ignored.
func (m *KeystrokeModel) SetTypoRate(rate float64) {
	if rate >= 0 && rate <= 1 {
		m.cfg.TypoRate = rate
	}
}

// Reset clears the fatigue history, returning the model to a rested state.
func (m *KeystrokeModel) Reset() {
	m.history.Replace(nil)
}

// ComputeTiming returns press delay and hold duration for typing char after
// prev. A zero prev means char opens the input. The computed sample is
// appended to the bounded fatigue history, so cadence slows as the session
// accumulates keystrokes.
func (m *KeystrokeModel) ComputeTiming(char, prev rune) KeyTiming {
	base := 60000.0 / (m.wpm * 5.0)

	// Fatigue grows with the number of characters already typed, capped
	// once the history ring is full.
	fatigue := 1.0 + m.cfg.FatigueMaxFactor*float64(m.history.Len())/float64(m.history.Cap())
	delay := base * fatigue

	if prev != 0 && unicode.IsLetter(prev) && unicode.IsLetter(char) {
		pair := string([]rune{unicode.ToLower(prev), unicode.ToLower(char)})
		if commonBigrams[pair] {
			delay *= m.cfg.CommonBigramFactor
		} else if isVowel(prev) == isVowel(char) {
			// Same-class pairs (double vowel, double consonant) break the
			// alternating hand rhythm and come out slower.
			delay *= m.cfg.AwkwardPairFactor
		}
	}

	switch {
	case char == Backspace:
		// Corrective stroke, no character-class adjustment.
	case char == ' ':
		delay += m.cfg.SpacePauseMs.Sample(m.rng)
	case isSentencePunct(char):
		delay += m.cfg.PunctuationPauseMs.Sample(m.rng)
	case unicode.IsDigit(char) || (!unicode.IsLetter(char) && !unicode.IsSpace(char)):
		delay *= m.cfg.SymbolDelayFactor
	}

	hold := m.cfg.KeyHoldMs
	if unicode.IsUpper(char) {
		// Shift travel before the key itself.
		hold += m.cfg.UppercaseHoldMs.Sample(m.rng)
	}

	if m.rng.Float64() < m.cfg.ThinkingPauseProbability {
		delay += m.cfg.ThinkingPauseMs.Sample(m.rng)
	}

	delay *= 1 + (m.rng.Float64()*2-1)*m.cfg.PressJitterFrac
	hold *= 1 + (m.rng.Float64()*2-1)*m.cfg.HoldJitterFrac

	timing := KeyTiming{
		PressDelay:   time.Duration(delay * float64(time.Millisecond)),
		HoldDuration: time.Duration(hold * float64(time.Millisecond)),
	}
	m.history.Push(timing)
	return timing
}

// Keystrokes expands text into the key sequence a human would produce,
// including occasional mistyped neighbors and their corrections. The
// committed characters always equal text exactly; an empty text yields an
// empty sequence.
func (m *KeystrokeModel) Keystrokes(text string) []Keystroke {
	runes := []rune(text)
	out := make([]Keystroke, 0, len(runes))
	typos := 0

	var prev rune
	for i, ch := range runes {
		// The first character never gets a typo: the opening keystroke is
		// deliberate.
		if i > 0 && m.rng.Float64() < m.cfg.TypoRate {
			if wrong, ok := m.neighborKey(ch); ok {
				out = append(out, Keystroke{Key: wrong, Timing: m.ComputeTiming(wrong, prev), Typo: true})

				correction := m.ComputeTiming(Backspace, wrong)
				// The pause before reaching for Backspace is the moment the
				// mistake registers. It pads the emitted delay only; the
				// history keeps the clean sample.
				correction.PressDelay += time.Duration(m.cfg.TypoNoticeMs.Sample(m.rng)) * time.Millisecond
				out = append(out, Keystroke{Key: Backspace, Timing: correction, Typo: true})

				typos++
				prev = 0 // rhythm restarts after a correction
			}
		}
		out = append(out, Keystroke{Key: ch, Timing: m.ComputeTiming(ch, prev)})
		prev = ch
	}

	if typos > 0 {
		m.log.Debug("typing sequence generated",
			zap.Int("characters", len(runes)),
			zap.Int("typos", typos))
	}
	return out
}

// neighborKey picks a random QWERTY neighbor of the intended key, preserving
// case. Characters without mapped neighbors never produce typos.
func (m *KeystrokeModel) neighborKey(intended rune) (rune, bool) {
	neighbors, ok := keyboardNeighbors[unicode.ToLower(intended)]
	if !ok || len(neighbors) == 0 {
		return 0, false
	}
	options := []rune(neighbors)
	wrong := options[m.rng.Intn(len(options))]
	if unicode.IsUpper(intended) {
		wrong = unicode.ToUpper(wrong)
	}
	return wrong, true
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func isSentencePunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':':
		return true
	}
	return false
}
