package services

import "strings"

const sourceSeparator = "||"

func joinSources(sources []string) string {
	return strings.Join(sources, sourceSeparator)
}

func splitSources(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, sourceSeparator)
}
