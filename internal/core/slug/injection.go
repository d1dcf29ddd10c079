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

package slug

import (
	"context"
	"log/slog"
	"regexp"
	"unicode"
)

// injectionPattern is a named detector. The name is only ever logged.
type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

// sep matches the separators an attacker can use inside a slug or free text.
const sep = `[\s\-_]`

func pattern(name, expr string) injectionPattern {
	return injectionPattern{name: name, re: regexp.MustCompile(`(?i)` + expr)}
}

var injectionPatterns = []injectionPattern{
	// instruction override
	pattern("ignore-instructions", `ignore`+sep+`+(previous|all|all`+sep+`+previous)`+sep+`+(instructions?|prompts?)`),
	pattern("forget-instructions", `forget`+sep+`+(previous|all|all`+sep+`+previous)`+sep+`+(instructions?|prompts?)`),
	pattern("disregard-instructions", `disregard`+sep+`+(previous|all|all`+sep+`+previous)`+sep+`+(instructions?|prompts?)`),
	pattern("override", `override`+sep+`+(system|previous|all)`),
	pattern("override-reversed", `(system|previous|all)`+sep+`+override`),
	pattern("bypass", `bypass`+sep+`+(system|previous|all)`),
	pattern("bypass-reversed", `(system|previous|all)`+sep+`+bypass`),

	// role markers
	pattern("role-marker", `\b(system|user|assistant|role)`+sep+`*:`),

	// role override
	pattern("you-are-now", `you`+sep+`+are`+sep+`+now`),
	pattern("you-must-now", `you`+sep+`+must`+sep+`+now`),
	pattern("developer-mode", `developer`+sep+`+mode`),
	pattern("jailbreak", `jailbreak`),
	pattern("escape-mode", `escape`+sep+`+mode`),
	pattern("unrestricted-mode", `unrestricted`+sep+`+mode`),

	// exfiltration
	pattern("return-secrets", `return`+sep+`+(all|every|system|environment|secrets?|keys?|passwords?|tokens?|credentials?)\b`),
	pattern("show-secrets", `show`+sep+`+(all|every|system|environment|secrets?|keys?|passwords?|tokens?)\b`),
	pattern("exfiltrate", `exfiltrat`),
	pattern("reveal-secrets", `(reveal|leak|dump|expose)`+sep+`+(the`+sep+`+)?(system|secrets?|prompts?|instructions?|keys?|passwords?|tokens?|credentials?|environment|env)\b`),

	// code execution
	pattern("execute-code", `(execute|run)`+sep+`+(commands?|code|scripts?)\b`),
	pattern("eval-call", `\b(eval|exec|system)\s*\(`),

	// instruction replacement
	pattern("new-instructions", `(new|different|alternative)`+sep+`+instructions?`),
	pattern("change-role", `change`+sep+`+(role|instructions?|prompt)`),
}

// hasControlChars reports raw control characters. They cannot appear in a URL
// path segment but can be smuggled in through a JSON body.
func hasControlChars(in string) bool {
	for _, r := range in {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// matchInjection returns the name of the first detector that matches.
func matchInjection(in string) (string, bool) {
	if hasControlChars(in) {
		return "control-characters", true
	}
	for _, p := range injectionPatterns {
		if p.re.MatchString(in) {
			return p.name, true
		}
	}
	return "", false
}

// DetectInjection reports whether the text contains a prompt-injection signature.
// It is shared by the slug validator (input) and the AI output validator (output).
func DetectInjection(in string) bool {
	_, hit := matchInjection(in)
	return hit
}

// LogInjectionAttempt writes an audit record. The input is truncated so a log
// line can never carry an arbitrarily large payload.
func LogInjectionAttempt(ctx context.Context, source, matched, input string) {
	if len(input) > 100 {
		input = input[:100] + "..."
	}
	slog.WarnContext(ctx, "potential prompt injection detected",
		"audit", true,
		"source", source,
		"pattern", matched,
		"input", input)
}
