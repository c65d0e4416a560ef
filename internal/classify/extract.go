package classify

// Author identifies who wrote a post.
type Author struct {
	UserID string
	Handle string
	Name   string
	Avatar string
}

// Pair is a post with its author.
type Pair struct {
	Author Author
	Post   *TweetLegacy
}

// Extractor recovers (author, post) pairs from one entry. It returns nil
// when the entry does not have its shape.
type Extractor func(e *Entry) []Pair

// Extractors are tried in order; the first that yields pairs wins.
var Extractors = []Extractor{
	ExtractModule,
	ExtractSingleItem,
	ExtractWithVisibilityResults,
}

// ExtractPairs applies Extractors to e.
func ExtractPairs(e *Entry) []Pair {
	for _, x := range Extractors {
		if pairs := x(e); len(pairs) > 0 {
			return pairs
		}
	}
	return nil
}

// ExtractModule reads a TimelineTimelineModule entry, which groups several
// posts (a thread) under items.
func ExtractModule(e *Entry) []Pair {
	var out []Pair
	for _, item := range e.Content.Items {
		ic := item.Item.ItemContent
		if ic == nil || ic.TweetResults == nil || ic.TweetResults.Result == nil {
			continue
		}
		r := ic.TweetResults.Result
		if r.Tweet != nil && r.Legacy == nil {
			r = r.Tweet
		}
		if p, ok := pairOf(r); ok {
			out = append(out, p)
		}
	}
	return out
}

// ExtractSingleItem reads a TimelineTimelineItem entry.
func ExtractSingleItem(e *Entry) []Pair {
	r := singleResult(e)
	if r == nil {
		return nil
	}
	if p, ok := pairOf(r); ok {
		return []Pair{p}
	}
	return nil
}

// ExtractWithVisibilityResults reads an item whose result is a
// TweetWithVisibilityResults wrapper.
func ExtractWithVisibilityResults(e *Entry) []Pair {
	r := singleResult(e)
	if r == nil || r.Tweet == nil {
		return nil
	}
	if p, ok := pairOf(r.Tweet); ok {
		return []Pair{p}
	}
	return nil
}

func singleResult(e *Entry) *TweetResult {
	ic := e.Content.ItemContent
	if ic == nil || ic.TweetResults == nil {
		return nil
	}
	return ic.TweetResults.Result
}

func pairOf(r *TweetResult) (Pair, bool) {
	if r == nil || r.Legacy == nil || r.Core == nil || r.Core.UserResults.Result == nil {
		return Pair{}, false
	}
	u := r.Core.UserResults.Result

	a := Author{UserID: u.RestID}
	if u.Legacy != nil {
		a.Handle = u.Legacy.ScreenName
		a.Name = u.Legacy.Name
		a.Avatar = u.Legacy.ProfileImageURLHTTPS
	}
	if u.Core != nil {
		if a.Handle == "" {
			a.Handle = u.Core.ScreenName
		}
		if a.Name == "" {
			a.Name = u.Core.Name
		}
	}
	if a.Handle == "" {
		return Pair{}, false
	}

	post := r.Legacy
	if post.IDStr == "" {
		post.IDStr = r.RestID
	}
	if post.IDStr == "" {
		return Pair{}, false
	}
	return Pair{Author: a, Post: post}, true
}
