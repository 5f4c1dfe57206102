package pipeline

import (
	"github.com/threadsage/server/internal/agent/model"
)

// CollectSources resolves the chunk citations of every run against the chunks
// that run retrieved, and gathers the web pages it saw. Both lists are
// de-duplicated and keep first-seen order.
func CollectSources(runs []*model.RunState) model.Sources {
	src := model.Sources{
		Documents: []model.DocumentSource{},
		Web:       []model.WebSource{},
	}
	seenDocs := map[model.ChunkCitation]bool{}
	seenURLs := map[string]bool{}

	addWeb := func(results []model.SearchResult) {
		for _, r := range results {
			if r.URL == "" || seenURLs[r.URL] {
				continue
			}
			seenURLs[r.URL] = true
			src.Web = append(src.Web, model.WebSource{URL: r.URL, Title: r.Title, Favicon: r.Favicon})
		}
	}

	for _, s := range runs {
		if s == nil {
			continue
		}
		for _, c := range s.ChunksUsed {
			if seenDocs[c] {
				continue
			}
			chunk, ok := findChunk(s.Chunks, c)
			if !ok {
				continue
			}
			seenDocs[c] = true
			title := chunk.Metadata.Title
			if title == "" {
				title = chunk.Metadata.FileName
			}
			src.Documents = append(src.Documents, model.DocumentSource{
				Title:      title,
				DocumentID: c.DocumentID,
				PageNo:     c.PageNo,
			})
		}
		if s.InitialSearch != nil {
			addWeb(s.InitialSearch.Results)
		}
		for _, r := range s.WebSearchResults {
			addWeb(r.Results)
		}
	}
	return src
}

func findChunk(chunks []model.Chunk, c model.ChunkCitation) (model.Chunk, bool) {
	for _, ch := range chunks {
		if ch.Metadata.DocumentID == c.DocumentID && ch.Metadata.PageNo == c.PageNo && ch.Metadata.ChunkIndex == c.ChunkIndex {
			return ch, true
		}
	}
	return model.Chunk{}, false
}
