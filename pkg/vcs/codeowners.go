package vcs

import "strings"

// ParseCodeOwners extracts the @-handles from a CODEOWNERS file, in order of
// first appearance. Email owners and comments are ignored.
func ParseCodeOwners(content string) []string {
	seen := make(map[string]bool)
	var owners []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "#") {
				break
			}
			if !strings.HasPrefix(f, "@") {
				continue
			}
			handle := strings.TrimPrefix(f, "@")
			if handle == "" || seen[handle] {
				continue
			}
			seen[handle] = true
			owners = append(owners, handle)
		}
	}
	return owners
}
