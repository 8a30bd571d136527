package speech

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/interview-sim/backend/internal/config"
)

// 各引擎按语言选择的默认声音。Volcengine 没有葡萄牙语音色，pt-BR 不在表内，
// 需要通过 SPEECH_VOICES_FILE 或 SPEECH_TTS_VOICE 指定。
var defaultVoices = map[string]map[string]string{
	config.EngineKokoro: {
		"pt-BR": "pf_dora",
		"en":    "af_heart",
		"en-GB": "bf_emma",
	},
	config.EngineVolcengine: {
		"en":    "en_female_amy_jupiter_bigtts",
		"en-GB": "en_female_amy_jupiter_bigtts",
	},
}

// lastResortLanguage is used when neither the requested nor the fallback
// language has a voice.
const lastResortLanguage = "en"

// VoiceTable maps persona languages to engine voices.
type VoiceTable struct {
	byLanguage map[string]string
	forced     string
	fallback   string
}

// NewVoiceTable starts from the engine defaults. forced, when set, wins over
// every language; fallbackLanguage is used for unknown languages.
func NewVoiceTable(engine, forced, fallbackLanguage string) *VoiceTable {
	t := &VoiceTable{
		byLanguage: make(map[string]string),
		forced:     strings.TrimSpace(forced),
		fallback:   fallbackLanguage,
	}
	for lang, voice := range defaultVoices[engine] {
		t.byLanguage[lang] = voice
	}
	return t
}

// LoadOverrides merges a YAML mapping of language to voice, e.g.
//
//	pt-BR: pm_alex
//	en: am_adam
func (t *VoiceTable) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read voices file: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return fmt.Errorf("parse voices file %s: %w", path, err)
	}
	for lang, voice := range overrides {
		if voice = strings.TrimSpace(voice); voice != "" {
			t.byLanguage[strings.TrimSpace(lang)] = voice
		}
	}
	return nil
}

// Resolve returns the voice for language.
func (t *VoiceTable) Resolve(language string) string {
	if t.forced != "" {
		return t.forced
	}
	if voice, ok := t.byLanguage[language]; ok {
		return voice
	}
	if voice, ok := t.byLanguage[t.fallback]; ok {
		return voice
	}
	return t.byLanguage[lastResortLanguage]
}

// Uncovered returns the languages that have no voice of their own and will be
// spoken with a fallback voice.
func (t *VoiceTable) Uncovered(languages ...string) []string {
	if t.forced != "" {
		return nil
	}
	var out []string
	for _, lang := range languages {
		if _, ok := t.byLanguage[lang]; !ok {
			out = append(out, lang)
		}
	}
	return out
}
