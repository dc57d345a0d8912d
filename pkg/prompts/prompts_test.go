package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testXML = `<Prompts>
  <SchemaType name="Item">
    <Prompt ref="RankingPrompt">
      <promptString>Score {request.query} against this item.</promptString>
      <returnStruc>{"score": "integer 0-100", "description": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="DetectItemTypePrompt">
      <promptString>What kind of item does {request.query} ask about?</promptString>
      <returnStruc>{"item_type": "string"}</returnStruc>
    </Prompt>
  </SchemaType>
  <SchemaType name="Recipe">
    <Prompt ref="RankingPrompt">
      <promptString>Score {request.query} against this recipe.</promptString>
      <returnStruc>{"score": "integer 0-100", "description": "string"}</returnStruc>
    </Prompt>
  </SchemaType>
  <Site name="seriouseats.com">
    <SchemaType name="Recipe">
      <Prompt ref="RankingPrompt">
        <promptString>Serious Eats ranking for {request.query}.</promptString>
        <returnStruc>{"score": "integer 0-100", "description": "string"}</returnStruc>
      </Prompt>
    </SchemaType>
  </Site>
</Prompts>`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Parse([]byte(testXML))
	require.NoError(t, err)
	return r
}

func TestFindSiteSpecificWins(t *testing.T) {
	r := loadTestRegistry(t)

	p, err := r.Find("seriouseats.com", "Recipe", "RankingPrompt")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Contains(t, p.Template, "Serious Eats")
}

func TestFindFallsBackToGlobalType(t *testing.T) {
	r := loadTestRegistry(t)

	p, err := r.Find("otherblog.com", "Recipe", "RankingPrompt")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Contains(t, p.Template, "this recipe")
}

func TestFindFallsBackThroughHierarchyToItem(t *testing.T) {
	r := loadTestRegistry(t)

	// Movie has no Movie-specific ranking prompt, so the Item one applies.
	p, err := r.Find("imdb.com", "Movie", "RankingPrompt")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Contains(t, p.Template, "this item")
}

func TestFindMissReturnsNilNil(t *testing.T) {
	r := loadTestRegistry(t)

	p, err := r.Find("anysite.com", "Recipe", "NoSuchPrompt")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestFindQualifiedTypeName(t *testing.T) {
	r := loadTestRegistry(t)

	p, err := r.Find("", "http://schema.org/Recipe", "RankingPrompt")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Contains(t, p.Template, "this recipe")
}

func TestParseRejectsBadReturnStruc(t *testing.T) {
	_, err := Parse([]byte(`<Prompts><SchemaType name="Item">
	  <Prompt ref="Broken"><promptString>x</promptString><returnStruc>not json</returnStruc></Prompt>
	</SchemaType></Prompts>`))
	assert.Error(t, err)
}

func TestParseSchema(t *testing.T) {
	r := loadTestRegistry(t)

	p, err := r.Find("", "Item", "RankingPrompt")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "string", p.Schema["description"])
}

func TestExpand(t *testing.T) {
	vars := Vars{
		Query:           "spicy crunchy snacks",
		Site:            "seriouseats.com",
		ItemType:        "Recipe",
		PreviousQueries: []string{"korean food", "snacks"},
		TopK:            "10",
	}

	got := Expand("Answer {request.query} on {request.site} ({site.itemType}), prior: {request.previousQueries}, top {request.top_k}", vars)
	assert.Equal(t, "Answer spicy crunchy snacks on seriouseats.com (Recipe), prior: korean food, snacks, top 10", got)
}

func TestExpandUnknownTokenIsEmpty(t *testing.T) {
	got := Expand("before {request.nope} after", Vars{})
	assert.Equal(t, "before  after", got)
}

func TestExpandUnbalancedBraceLeftAlone(t *testing.T) {
	got := Expand("json example: {", Vars{Query: "q"})
	assert.Equal(t, "json example: {", got)
}
