package notes

import "strings"

// NormalizeTags trims, lowercases and de-duplicates tags while preserving the
// order of first appearance. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	cleaned := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		cleaned = append(cleaned, tag)
	}
	return cleaned
}

// SerializeTags normalizes tags and joins them for column storage.
func SerializeTags(tags []string) string {
	return strings.Join(NormalizeTags(tags), ",")
}

// ParseTags splits a stored tags column back into a tag list.
func ParseTags(tagsText string) []string {
	if tagsText == "" {
		return nil
	}
	parts := strings.Split(tagsText, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}
