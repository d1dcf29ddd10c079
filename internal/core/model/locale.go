// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Locale is a BCP 47 tag restricted to the languages descriptions are generated in.
type Locale string

const (
	LocaleEnUS Locale = "en-US"
	LocalePlPL Locale = "pl-PL"
	LocaleDeDE Locale = "de-DE"
	LocaleFrFR Locale = "fr-FR"
	LocaleEsES Locale = "es-ES"

	DefaultLocale = LocaleEnUS
)

// SupportedLocales lists the accepted locales.
var SupportedLocales = []Locale{LocaleEnUS, LocalePlPL, LocaleDeDE, LocaleFrFR, LocaleEsES}

// ParseLocale canonicalizes a locale such as "pl_pl" or "EN-us". Empty input
// yields DefaultLocale.
//
// Inputs:
//   - in: The raw locale string from a query parameter or request body.
//
// Outputs:
//   - Locale: The canonical supported locale.
//   - error: ErrInvalidLocale if the tag is malformed or not supported.
func ParseLocale(in string) (Locale, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return DefaultLocale, nil
	}
	tag, err := language.Parse(strings.ReplaceAll(in, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocale, in)
	}
	canonical := Locale(tag.String())
	for _, l := range SupportedLocales {
		if strings.EqualFold(string(l), string(canonical)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLocale, in)
}

// LocaleOrDefault is ParseLocale for lenient callers: anything unsupported
// becomes DefaultLocale.
func LocaleOrDefault(in string) Locale {
	l, err := ParseLocale(in)
	if err != nil {
		return DefaultLocale
	}
	return l
}

// Language returns the English language name, used in prompts.
func (l Locale) Language() string {
	switch l {
	case LocalePlPL:
		return "Polish"
	case LocaleDeDE:
		return "German"
	case LocaleFrFR:
		return "French"
	case LocaleEsES:
		return "Spanish"
	}
	return "English"
}

// ContextTag selects the style of a generated description.
type ContextTag string

const (
	ContextDefault  ContextTag = "DEFAULT"
	ContextModern   ContextTag = "modern"
	ContextCritical ContextTag = "critical"
	ContextHumorous ContextTag = "humorous"
)

// ContextTags lists the accepted context tags.
var ContextTags = []ContextTag{ContextDefault, ContextModern, ContextCritical, ContextHumorous}

// ParseContextTag matches a context tag case-insensitively. Empty input yields ContextDefault.
func ParseContextTag(in string) (ContextTag, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return ContextDefault, nil
	}
	for _, t := range ContextTags {
		if strings.EqualFold(string(t), in) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidContextTag, in)
}

// Style is the instruction fragment a prompt uses for this tag.
func (t ContextTag) Style() string {
	switch t {
	case ContextModern:
		return "a modern, engaging tone for a contemporary audience"
	case ContextCritical:
		return "the analytical tone of a film critic"
	case ContextHumorous:
		return "a light, humorous tone"
	}
	return "a neutral, encyclopedic tone"
}
