// Package localization holds the labels the presentation adapters render
// around a conversation: status lines, placeholders and prompts.
package localization

import (
	"embed"
	"encoding/json"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"devchat/client/internal/transport"
)

// DefaultLanguage is used when a key is missing in the requested language.
const DefaultLanguage = "en"

// Label keys.
const (
	KeyTitlePlaceholder   = "title.placeholder"
	KeyStatusActive       = "status.active"
	KeyStatusConnecting   = "status.connecting"
	KeyStatusOffline      = "status.offline"
	KeyStatusReconnecting = "status.reconnecting"
	KeyInputPlaceholder   = "input.placeholder"
	KeyHistoryLoading     = "history.loading"
	KeyHistoryEmpty       = "history.empty"
	KeyHelp               = "help"
)

//go:embed locales/*.json
var embedded embed.FS

// Localizer maps language and key to a label.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// Default loads the bundled locales.
func Default() *Localizer {
	sub, err := fs.Sub(embedded, "locales")
	if err != nil {
		panic(err)
	}
	l, err := NewLocalizer(sub)
	if err != nil {
		panic(err)
	}
	return l
}

// NewLocalizer loads every <lang>.json file at the root of fsys.
func NewLocalizer(fsys fs.FS) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read localization directory")
	}

	for _, file := range files {
		if file.IsDir() || path.Ext(file.Name()) != ".json" {
			continue
		}

		data, err := fs.ReadFile(fsys, file.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read localization file %s", file.Name())
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, errors.Wrapf(err, "failed to parse localization file %s", file.Name())
		}

		l.translations[strings.TrimSuffix(file.Name(), ".json")] = translations
	}

	return l, nil
}

// Languages lists the loaded language codes.
func (l *Localizer) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.translations))
	for lang := range l.translations {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// GetString returns the label for key in lang, falling back to DefaultLanguage
// and then to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if value, ok := l.translations[lang][key]; ok {
		return value
	}
	if value, ok := l.translations[DefaultLanguage][key]; ok {
		return value
	}
	return key
}

// For binds a language.
func (l *Localizer) For(lang string) Labels {
	return Labels{l: l, lang: lang}
}

// Labels is a Localizer bound to one language.
type Labels struct {
	l    *Localizer
	lang string
}

func (b Labels) Get(key string) string {
	return b.l.GetString(b.lang, key)
}

// StatusKey picks the status label for a view's connection.
func StatusKey(state transport.State, reconnecting bool) string {
	switch {
	case reconnecting:
		return KeyStatusReconnecting
	case state == transport.Joined:
		return KeyStatusActive
	case state == transport.Connecting:
		return KeyStatusConnecting
	default:
		return KeyStatusOffline
	}
}
