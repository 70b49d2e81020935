package docs

import (
	"bufio"
	"os"
	"regexp"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

func TestTopics(t *testing.T) {
	// This test ensures that the readme and the topic files agree:
	// 1. Every topic listed in readme.md can be loaded by `lcs topic <topic>`.
	// 2. Every other .md file is listed in readme.md.
	file, err := os.Open("readme.md")
	require.NoError(t, err)
	defer file.Close()

	var topicsInReadme []string
	scanner := bufio.NewScanner(file)
	topicRegex := regexp.MustCompile(`^\*\s+([^:]+):.*$`)
	for scanner.Scan() {
		if matches := topicRegex.FindStringSubmatch(scanner.Text()); len(matches) > 1 {
			topicsInReadme = append(topicsInReadme, strings.TrimSpace(matches[1]))
		}
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, topicsInReadme)

	for _, topic := range topicsInReadme {
		_, err := GetTopic(topic)
		assert.NoError(t, err, "topic %q", topic)
	}

	all, err := GetAllTopics()
	require.NoError(t, err)
	for _, topic := range all {
		assert.True(t, slices.Contains(topicsInReadme, topic), "topic %q is not listed in readme.md", topic)
	}
	assert.NotContains(t, all, readme)
}

func TestGetTopics(t *testing.T) {
	doc, err := GetTopics("amounts", "transfers")
	require.NoError(t, err)
	assert.Less(t, strings.Index(doc, "# Amounts"), strings.Index(doc, "# Transfers"))

	all, err := GetTopic("*")
	require.NoError(t, err)
	topics, err := GetAllTopics()
	require.NoError(t, err)
	for _, topic := range topics {
		content, err := GetTopic(topic)
		require.NoError(t, err)
		assert.Contains(t, all, content)
	}

	_, err = GetTopic("nope")
	assert.Error(t, err)
}

func TestTopicsHaveATitle(t *testing.T) {
	topics, err := GetAllTopics()
	require.NoError(t, err)
	for _, topic := range append(topics, readme) {
		content, err := GetTopic(topic)
		require.NoError(t, err)

		source := []byte(content)
		root := goldmark.DefaultParser().Parse(text.NewReader(source))
		first := root.FirstChild()
		require.NotNil(t, first, "topic %q is empty", topic)
		heading, ok := first.(*ast.Heading)
		if assert.True(t, ok, "topic %q must start with a heading", topic) {
			assert.Equal(t, 1, heading.Level, "topic %q", topic)
		}
	}
}
