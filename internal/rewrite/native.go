package rewrite

import (
	"regexp"
	"strconv"
	"strings"
)

// templateTagCardRef matches native SQL template-tag occurrences of the
// form {{#<id>-<slug>}}. The slug portion is preserved verbatim; only the
// integer id is a candidate for substitution.
var templateTagCardRef = regexp.MustCompile(`\{\{#(\d+)-([^}]*)\}\}`)

// sqlCommentPrefixes is a best-effort heuristic for warning (never erroring)
// when a template tag occurrence sits on a line that looks like a SQL
// comment — the regex substitution cannot tell a real reference from one
// inside a string literal or comment, per the accepted open question.
var sqlCommentPrefixes = []string{"--", "/*"}

// LooksLikeCommentLine reports whether a line containing a template-tag
// match appears to start a SQL line comment, a heuristic signal only.
func LooksLikeCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range sqlCommentPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// RewriteNative rewrites the native-SQL text and template-tags map of
// every native-kind subtree in a dataset_query (both dialects), calling
// v.CardRef for every card reference found. onCommentLine, if non-nil, is
// invoked with the offending line whenever a template-tag match sits on a
// line that looks like a SQL comment.
func RewriteNative(card Payload, v Visitor, onCommentLine func(line string)) {
	datasetQuery, ok := card["dataset_query"].(Payload)
	if !ok {
		return
	}
	for _, native := range nativeBlocks(datasetQuery) {
		rewriteNativeBlock(native, v, onCommentLine)
	}
}

func rewriteNativeBlock(native Payload, v Visitor, onCommentLine func(line string)) {
	if sqlKey, text := nativeQueryField(native); sqlKey != "" {
		if onCommentLine != nil {
			for _, line := range strings.Split(text, "\n") {
				if templateTagCardRef.MatchString(line) && LooksLikeCommentLine(line) {
					onCommentLine(line)
				}
			}
		}
		rewritten := templateTagCardRef.ReplaceAllStringFunc(text, func(match string) string {
			groups := templateTagCardRef.FindStringSubmatch(match)
			id, err := strconv.Atoi(groups[1])
			if err != nil {
				return match
			}
			newID := v.CardRef(id)
			return "{{#" + strconv.Itoa(newID) + "-" + groups[2] + "}}"
		})
		native[sqlKey] = rewritten
	}

	tags, ok := native["template-tags"].(Payload)
	if !ok {
		return
	}
	rewritten := make(Payload, len(tags))
	for key, raw := range tags {
		tag, ok := raw.(Payload)
		if !ok {
			rewritten[key] = raw
			continue
		}
		if tag["type"] != "card" {
			rewritten[key] = tag
			continue
		}

		srcID, hasID := intField(tag["card-id"])
		newKey := key
		if hasID {
			newID := v.CardRef(srcID)
			tag["card-id"] = float64(newID)

			if encodedID, slug, ok := parseTagKeyID(key); ok && encodedID == srcID {
				hadHash := strings.HasPrefix(key, "#")
				prefix := ""
				if hadHash {
					prefix = "#"
				}
				newKey = prefix + strconv.Itoa(newID) + "-" + slug
				tag["name"] = newKey
				if dn, ok := tag["display-name"].(string); ok {
					tag["display-name"] = rewriteDisplayNameID(dn, srcID, newID)
				}
			}
		}
		rewritten[newKey] = tag
	}
	native["template-tags"] = rewritten
}

// nativeQueryField returns the key holding the SQL text ("query" in both
// dialects observed) and its current value, or ("", "") if absent.
func nativeQueryField(native Payload) (string, string) {
	if text, ok := native["query"].(string); ok {
		return "query", text
	}
	return "", ""
}

// parseTagKeyID recognizes template-tag map keys of the form "<n>-slug" or
// "#<n>-slug", returning the encoded id and the slug portion.
func parseTagKeyID(key string) (id int, slug string, ok bool) {
	trimmed := strings.TrimPrefix(key, "#")
	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return n, parts[1], true
}

// rewriteDisplayNameID replaces the numeric portion of a display-name like
// "#50 Filtered XXX" with the new id, preserving an optional leading "#"
// and everything after the number.
func rewriteDisplayNameID(displayName string, oldID, newID int) string {
	hadHash := strings.HasPrefix(displayName, "#")
	body := strings.TrimPrefix(displayName, "#")
	oldStr := strconv.Itoa(oldID)
	if !strings.HasPrefix(body, oldStr) {
		return displayName
	}
	rest := body[len(oldStr):]
	prefix := ""
	if hadHash {
		prefix = "#"
	}
	return prefix + strconv.Itoa(newID) + rest
}

func intField(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
