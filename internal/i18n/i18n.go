package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// ContextKeyLocalizer is the Gin context key holding the request localizer.
const ContextKeyLocalizer = "localizer"

var (
	bundle      *goi18n.Bundle
	matcher     language.Matcher
	defaultLang string
)

// Init loads every embedded locale file. defaultLang is used when a request
// carries no usable Accept-Language header.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := goi18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
	}

	// The default tag goes first so the matcher falls back to it.
	tags := []language.Tag{tag}
	for _, t := range b.LanguageTags() {
		if t != tag {
			tags = append(tags, t)
		}
	}

	bundle = b
	matcher = language.NewMatcher(tags)
	defaultLang = tag.String()
	return nil
}

// Languages lists the loaded locales.
func Languages() []string {
	if bundle == nil {
		return nil
	}
	out := make([]string, 0, len(bundle.LanguageTags()))
	for _, t := range bundle.LanguageTags() {
		out = append(out, t.String())
	}
	return out
}

// Match resolves an Accept-Language header value to a loaded locale.
func Match(acceptLanguage string) string {
	if matcher == nil {
		return defaultLang
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return defaultLang
	}
	tag, _, conf := matcher.Match(tags...)
	if conf == language.No {
		return defaultLang
	}
	base, _ := tag.Base()
	return base.String()
}

// NewLocalizer creates a localizer for lang, falling back to the default locale.
func NewLocalizer(lang string) *goi18n.Localizer {
	if bundle == nil {
		return nil
	}
	return goi18n.NewLocalizer(bundle, lang, defaultLang)
}

// Translate renders msgID with loc. Unknown IDs are returned unchanged.
func Translate(loc *goi18n.Localizer, msgID string, data map[string]any) string {
	if loc == nil {
		return msgID
	}
	s, err := loc.Localize(&goi18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
	if err != nil {
		return msgID
	}
	return s
}

// Middleware picks the request locale from Accept-Language.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := Match(c.GetHeader("Accept-Language"))
		c.Set(ContextKeyLocalizer, NewLocalizer(lang))
		c.Header("Content-Language", lang)
		c.Next()
	}
}

// FromContext returns the request localizer, or the default one when the
// middleware did not run.
func FromContext(c *gin.Context) *goi18n.Localizer {
	if v, ok := c.Get(ContextKeyLocalizer); ok {
		if loc, ok := v.(*goi18n.Localizer); ok && loc != nil {
			return loc
		}
	}
	return NewLocalizer(defaultLang)
}

// T translates msgID for the current request.
func T(c *gin.Context, msgID string) string {
	return Translate(FromContext(c), msgID, nil)
}
