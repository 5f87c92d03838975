/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package popup renders the text shown when a marker is clicked.
package popup

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	md "github.com/russross/blackfriday/v2"

	"github.com/Comcast/entitymarkers/world"
)

// Tokens a template can use.
const (
	TokenType           = "{type}"
	TokenName           = "{name}"
	TokenUUID           = "{uuid}"
	TokenSpawnReason    = "{spawn-reason}"
	TokenCustomName     = "{custom-name}"
	TokenX              = "{x}"
	TokenY              = "{y}"
	TokenZ              = "{z}"
	TokenWorld          = "{world}"
	TokenScoreboardTags = "{scoreboard-tags}"
)

// Null is what a missing custom name renders as.
const Null = "null"

// DefaultTemplate lists every token, one per line.
var DefaultTemplate = strings.Join([]string{
	"Name: " + TokenName,
	"Type: " + TokenType,
	"UUID: " + TokenUUID,
	"Spawn Reason: " + TokenSpawnReason,
	"Custom Name: " + TokenCustomName,
	"Location: " + TokenX + ", " + TokenY + ", " + TokenZ + " (" + TokenWorld + ")",
	"Scoreboard Tags: " + TokenScoreboardTags,
}, "\n")

// Render substitutes the entity's attributes into the template.
//
// Substitution is a single left-to-right pass: text that comes from
// the entity is never scanned for tokens.
func Render(template string, e *world.Entity) string {
	custom, have := e.ResolvedCustomName()
	if !have {
		custom = Null
	}
	x, y, z := e.Position.Block()

	r := strings.NewReplacer(
		TokenType, string(e.Type),
		TokenName, e.Name,
		TokenUUID, e.UUID.String(),
		TokenSpawnReason, string(e.SpawnReason),
		TokenCustomName, custom,
		TokenX, strconv.Itoa(x),
		TokenY, strconv.Itoa(y),
		TokenZ, strconv.Itoa(z),
		TokenWorld, e.World,
		TokenScoreboardTags, Tags(e.Tags),
	)
	return r.Replace(template)
}

// Tags renders a tag list as "[ a, b ]".  Tags are sorted so that the
// output doesn't depend on the host's set order.
func Tags(tags []string) string {
	acc := make([]string, len(tags))
	copy(acc, tags)
	sort.Strings(acc)
	return "[ " + strings.Join(acc, ", ") + " ]"
}

// Format says how rendered text becomes marker detail markup.
type Format string

const (
	// Lines converts newlines to "<br>".
	Lines Format = "lines"

	// Markdown renders the text as Markdown.
	Markdown Format = "markdown"
)

var UnknownFormat = errors.New("unknown popup format")

// ParseFormat accepts "lines", "markdown", or "" (which is Lines).
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return Lines, nil
	case Lines, Markdown:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", UnknownFormat, s)
	}
}

// Detail converts rendered text into the marker's detail markup.
func Detail(text string, f Format) string {
	switch f {
	case Markdown:
		return strings.TrimSpace(string(md.Run([]byte(text))))
	default:
		return strings.ReplaceAll(text, "\n", "<br>")
	}
}

// Label returns the first line of the rendered text.  For Markdown,
// leading heading marks are dropped.
func Label(text string, f Format) string {
	line := text
	if i := strings.IndexByte(text, '\n'); 0 <= i {
		line = text[:i]
	}
	line = strings.TrimSuffix(line, "\r")
	if f == Markdown {
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return line
}
