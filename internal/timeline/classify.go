package timeline

import "strings"

// Category buckets a timeline event by what kind of work it represents.
type Category string

const (
	CategoryNavigation Category = "navigation"
	CategoryScript     Category = "script"
	CategoryLayout     Category = "layout"
	CategoryPaint      Category = "paint"
	CategoryComposite  Category = "composite"
	CategoryInput      Category = "input"
	CategoryAnimation  Category = "animation"
	CategoryGC         Category = "gc"
	CategoryIdle       Category = "idle"
	CategoryOther      Category = "other"
)

// categoryKeywords is checked in order; the first category with a matching
// keyword wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryNavigation, []string{"navigat", "domcontent", "load", "init", "commit", "redirect"}},
	{CategoryScript, []string{"script", "task", "function", "eval", "compile", "v8", "parse"}},
	{CategoryLayout, []string{"layout", "reflow", "style"}},
	{CategoryPaint, []string{"paint", "render", "rasteriz"}},
	{CategoryComposite, []string{"composit", "layer"}},
	{CategoryInput, []string{"input", "click", "key", "mouse", "pointer", "touch", "scroll"}},
	{CategoryAnimation, []string{"animation", "raf", "frame"}},
	{CategoryGC, []string{"gc", "garbage"}},
	{CategoryIdle, []string{"idle", "wait"}},
}

// Categorize maps a raw event name to a Category by keyword match. The
// default is CategoryOther.
func Categorize(name string) Category {
	lower := strings.ToLower(name)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.category
			}
		}
	}
	return CategoryOther
}
