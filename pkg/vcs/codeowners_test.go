package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCodeOwners(t *testing.T) {
	content := `# Owners for orders-enricher
*                @acme/orders-team @jdoe
/src/main/java/  @jdoe @msmith   # java owners
docs/            ops@acme.example

/lineage/        @acme/data-platform
`
	assert.Equal(t, []string{"acme/orders-team", "jdoe", "msmith", "acme/data-platform"}, ParseCodeOwners(content))
}

func TestParseCodeOwnersEmpty(t *testing.T) {
	assert.Empty(t, ParseCodeOwners(""))
	assert.Empty(t, ParseCodeOwners("# only comments\n\n"))
	assert.Empty(t, ParseCodeOwners("*\n"))
}

func TestReviewers(t *testing.T) {
	owners := []string{"acme/orders-team", "jdoe", "@msmith", " ", "acme/data"}
	assert.Equal(t, []string{"jdoe", "msmith"}, Reviewers(owners))
	assert.Nil(t, Reviewers(nil))
}
