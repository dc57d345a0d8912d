package tooldefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testXML = `<Tools>
  <Item>
    <Tool name="search" enabled="true">
      <prompt>Does {request.query} look like a search? {tool.description}</prompt>
      <returnStruc>{"score": "integer 0-100", "justification": "string"}</returnStruc>
      <handler>SearchHandler</handler>
      <example>find me spicy recipes</example>
    </Tool>
    <Tool name="item_details" enabled="true">
      <argument name="item_name">name of the item asked about</argument>
      <argument name="details_requested">the specific details wanted</argument>
      <prompt>Does {request.query} ask for details of one item?</prompt>
      <returnStruc>{"score": "integer 0-100", "item_name": "string", "details_requested": "string"}</returnStruc>
      <handler>ItemDetailsHandler</handler>
    </Tool>
    <Tool name="legacy" enabled="false">
      <prompt>never loaded</prompt>
    </Tool>
  </Item>
  <Recipe>
    <Tool name="substitution" enabled="true">
      <prompt>Does {request.query} ask for an ingredient substitution?</prompt>
      <returnStruc>{"score": "integer 0-100"}</returnStruc>
      <handler>SubstitutionHandler</handler>
    </Tool>
    <Tool name="search" enabled="true">
      <prompt>Recipe-flavored search scoring.</prompt>
      <returnStruc>{"score": "integer 0-100"}</returnStruc>
      <handler>SearchHandler</handler>
    </Tool>
  </Recipe>
</Tools>`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Parse([]byte(testXML))
	require.NoError(t, err)
	return r
}

func TestToolsForTypeInheritsFromItem(t *testing.T) {
	r := loadTestRegistry(t)

	tools := r.ToolsForType("Movie")
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search", "item_details"}, names)
}

func TestToolsForTypeSubtypeShadowsAncestor(t *testing.T) {
	r := loadTestRegistry(t)

	tools := r.ToolsForType("Recipe")
	var search *Tool
	for _, tool := range tools {
		if tool.Name == "search" {
			search = tool
		}
	}
	require.NotNil(t, search)
	assert.Equal(t, "Recipe", search.SchemaType)
	assert.Contains(t, search.Prompt, "Recipe-flavored")
}

func TestToolsForTypeDisabledExcluded(t *testing.T) {
	r := loadTestRegistry(t)

	assert.Nil(t, r.Find("Item", "legacy"))
	assert.Equal(t, 4, r.Count())
}

func TestToolsForTypeCached(t *testing.T) {
	r := loadTestRegistry(t)

	first := r.ToolsForType("Recipe")
	second := r.ToolsForType("Recipe")
	require.Len(t, first, 3)
	// Same backing slice on the second call.
	assert.Equal(t, &first[0], &second[0])
}

func TestFindParsesArguments(t *testing.T) {
	r := loadTestRegistry(t)

	tool := r.Find("Movie", "item_details")
	require.NotNil(t, tool)
	assert.Equal(t, "name of the item asked about", tool.Arguments["item_name"])
	assert.Equal(t, "ItemDetailsHandler", tool.Handler)
	assert.Equal(t, "integer 0-100", tool.ReturnStruc["score"])
}

func TestDescriptionIncludesExamples(t *testing.T) {
	r := loadTestRegistry(t)

	tool := r.Find("Item", "search")
	require.NotNil(t, tool)
	desc := tool.Description()
	assert.Contains(t, desc, "search")
	assert.Contains(t, desc, "find me spicy recipes")
}

func TestParseRejectsBadReturnStruc(t *testing.T) {
	_, err := Parse([]byte(`<Tools><Item><Tool name="x" enabled="true"><returnStruc>oops</returnStruc></Tool></Item></Tools>`))
	assert.Error(t, err)
}
