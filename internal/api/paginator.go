package api

import "context"

// Pages lazily walks a cursor-paged collection endpoint. The first
// request carries no cursor; every following cursor is taken verbatim
// from the server's page_info. Iteration ends when a page comes back
// empty or the server reports no next page.
type Pages struct {
	client *Client
	path   string
	params Params
	cursor any
	done   bool
}

// Collection prepares a paginator for the given endpoint. Parameters are
// copied, so the caller's map can be reused.
func (c *Client) Collection(path string, params Params) *Pages {
	merged := make(Params, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	merged["max_page_size"] = c.pageSize
	return &Pages{
		client: c,
		path:   path,
		params: merged,
	}
}

// Next returns the next batch of items, or nil when the collection is
// exhausted. Any non-ok status aborts the whole sequence with a
// *RequestError; there is no partial-success pagination.
func (p *Pages) Next(ctx context.Context) ([]map[string]any, error) {
	if p.done {
		return nil, nil
	}

	params := make(Params, len(p.params)+1)
	for k, v := range p.params {
		params[k] = v
	}
	params["cursor"] = p.cursor

	env, err := p.client.call(ctx, "GET", p.path, params)
	if err != nil {
		return nil, err
	}
	if env.Status != statusOK {
		p.done = true
		return nil, &RequestError{Operation: "get collection", Status: env.Status, Path: p.path, APIError: env.Error}
	}

	items := extractItems(env.Data)
	if len(items) == 0 {
		p.done = true
		return nil, nil
	}

	pageInfo, _ := env.Data["page_info"].(map[string]any)
	hasNext, _ := pageInfo["has_next_page"].(bool)
	if !hasNext {
		p.done = true
	} else {
		p.cursor = pageInfo["cursor"]
	}
	return items, nil
}

func extractItems(data map[string]any) []map[string]any {
	raw, _ := data["items"].([]any)
	items := make([]map[string]any, 0, len(raw))
	for _, el := range raw {
		if m, ok := el.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}
