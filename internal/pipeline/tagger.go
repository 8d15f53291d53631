package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/jsonrepair"
	"github.com/color2333/vibingu/internal/types"
)

// TagInput bundles the C6 tagger's inputs (spec.md §4.6).
type TagInput struct {
	Text         string
	Category     types.Category
	MetaData     map[string]interface{}
	Anchor       time.Time
	TrendingTags []string // caller's top-10 tags from the last 7 days, used to prime the prompt
	RecordID     string

	// OnRetry, if set, is called once with the attempt number (2) right
	// before the second invocation attempt begins, so a streaming caller
	// can surface a "retry" phase event (spec.md §4.8).
	OnRetry func(attempt int)
}

// categoryTagMap seeds the rules fallback's category tag, grounded on the
// original tagger's hard-coded category_map.
var categoryTagMap = map[types.Category]string{
	types.CategorySleep:    "#body/sleep",
	types.CategoryDiet:     "#diet/meal",
	types.CategoryActivity: "#body/exercise",
	types.CategoryMood:     "#mood/note",
	types.CategorySocial:   "#social/interaction",
	types.CategoryWork:     "#work/task",
	types.CategoryGrowth:   "#growth/learning",
	types.CategoryLeisure:  "#leisure/entertainment",
	types.CategoryScreen:   "#digital/screen",
}

// keywordTags is the rules fallback's substring-to-tag table, grounded on
// the original tagger's Chinese keyword dict, translated to the English
// vocabulary this port's text is expected to use.
var keywordTags = []struct {
	keyword string
	tag     string
}{
	{"coffee", "#diet/coffee"},
	{"run", "#body/running"},
	{"gym", "#body/workout"},
	{"book", "#leisure/reading"},
	{"movie", "#leisure/movie"},
	{"game", "#leisure/gaming"},
	{"happy", "#mood/happy"},
	{"tired", "#body/fatigue"},
	{"meeting", "#work/meeting"},
	{"study", "#growth/learning"},
}

const taggerSystemPromptTemplate = `You are a tag generator for a personal life-logging app. Given a record's
content, generate 3-6 short hierarchical tags of the form "#category/leaf".
Always include exactly one "#time/<period>" tag using the current time
period: %s. Prefer vocabulary from these trending tags when they fit: %s.

Respond as a JSON array of strings, e.g. ["#time/morning", "#diet/coffee"].`

type tagArrayPayload struct {
	Tags []string `json:"tags"`
}

// Generate runs the C6 tagger: one attempt, one automatic retry, then a
// deterministic rules fallback (spec.md §4.6).
func Generate(ctx context.Context, gw Caller, in TagInput) []string {
	if gw == nil || !gw.HasUpstreamCredentials() {
		return rulesTags(in)
	}

	prompt := fmt.Sprintf(taggerSystemPromptTemplate, TaggerTimePeriod(ToNaiveBeijing(in.Anchor)), strings.Join(in.TrendingTags, ", "))
	messages := []gateway.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: tagUserContent(in)},
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt == 2 && in.OnRetry != nil {
			in.OnRetry(attempt)
		}
		result, err := gw.ChatComplete(ctx, messages, gateway.ModelTextFlash, true, "generate_tags", in.RecordID)
		if err == nil {
			tags := parseTagResponse(result.Content)
			if len(tags) > 0 {
				return ensureTimeTag(tags, in.Anchor)
			}
			lastErr = fmt.Errorf("tagger: empty tag list")
		} else {
			lastErr = err
		}
		pipelineWarn(ctx, "tagger", "attempt failed", map[string]interface{}{"attempt": attempt, "err": lastErr.Error()})
	}
	pipelineWarn(ctx, "tagger", "both attempts failed, using rules fallback", map[string]interface{}{"err": lastErr.Error()})
	return rulesTags(in)
}

func tagUserContent(in TagInput) string {
	metaJSON := "none"
	if len(in.MetaData) > 0 {
		metaJSON = fmt.Sprintf("%v", in.MetaData)
	}
	text := in.Text
	if text == "" {
		text = "none"
	}
	return fmt.Sprintf("category: %s\ncontent: %s\nmeta_data: %s", in.Category, text, metaJSON)
}

// parseTagResponse accepts either a bare JSON array or {"tags": [...]},
// mirroring the original tagger's tolerant response handling.
func parseTagResponse(content string) []string {
	var arr []string
	if err := jsonrepair.Parse(content, &arr); err == nil {
		return arr
	}
	var obj tagArrayPayload
	if err := jsonrepair.Parse(content, &obj); err == nil {
		return obj.Tags
	}
	return nil
}

// ensureTimeTag guarantees the mandatory #time/<period> tag is present even
// if the model omitted it, and caps the result at 6 tags.
func ensureTimeTag(tags []string, anchor time.Time) []string {
	period := string(TaggerTimePeriod(ToNaiveBeijing(anchor)))
	timeTag := "#time/" + period
	hasTime := false
	for _, t := range tags {
		if strings.HasPrefix(t, "#time/") {
			hasTime = true
			break
		}
	}
	if !hasTime {
		tags = append([]string{timeTag}, tags...)
	}
	if len(tags) > 6 {
		tags = tags[:6]
	}
	return tags
}

// rulesTags is the deterministic fallback: the time tag, the category tag,
// and any keyword-matched leaves, capped at 6 (spec.md §4.6).
func rulesTags(in TagInput) []string {
	tags := []string{"#time/" + string(TaggerTimePeriod(ToNaiveBeijing(in.Anchor)))}

	if tag, ok := categoryTagMap[in.Category]; ok {
		tags = append(tags, tag)
	}

	lower := strings.ToLower(in.Text)
	for _, kw := range keywordTags {
		if strings.Contains(lower, kw.keyword) && !containsTag(tags, kw.tag) {
			tags = append(tags, kw.tag)
		}
	}

	if len(tags) > 6 {
		tags = tags[:6]
	}
	return tags
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
