package metadata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

// LiveSource reads metadata directly from a running source cluster over
// HTTP, the alternative to SnapshotSource §4.5 names ("source may be ...
// a live cluster (HTTP)"). Client construction mirrors the teacher's
// HTTP/HTTPS client-selection posture for backend endpoints: one shared
// *fasthttp.Client, TLS settings resolved once up front.
type LiveSource struct {
	BaseURL string
	Client  *fasthttp.Client
}

var _ Source = (*LiveSource)(nil)

func NewLiveSource(baseURL string) *LiveSource {
	return &LiveSource{
		BaseURL: baseURL,
		Client:  cmn.NewClient(cmn.TransportArgs{Timeout: 30 * time.Second}),
	}
}

func (l *LiveSource) get(ctx context.Context, path string, out interface{}) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(l.BaseURL + path)
	req.Header.Set("User-Agent", cmn.UserAgent())
	if auth := cmn.AuthHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	timeout := cmn.Cfg().Client.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if err := l.Client.DoTimeout(req, resp, timeout); err != nil {
		return 0, cmn.WrapError(cmn.KindTransientIO, err, "get %s", path)
	}
	status := resp.StatusCode()
	if status == 200 && out != nil {
		if err := cmn.Unmarshal(resp.Body(), out); err != nil {
			return status, cmn.WrapError(cmn.KindInvalidResponse, err, "decode response from %s", path)
		}
	}
	return status, nil
}

func (l *LiveSource) ReadGlobalMetadata(ctx context.Context) (GlobalMetadata, error) {
	out := GlobalMetadata{}

	var legacy map[string]json.RawMessage
	if status, err := l.get(ctx, "/_template", &legacy); err != nil {
		return out, err
	} else if status == 200 {
		for name, body := range legacy {
			out.LegacyTemplates = append(out.LegacyTemplates, Item{Kind: KindLegacyTemplate, Name: name, TargetPath: "/_template/" + name, Body: body})
		}
	}

	var comp struct {
		ComponentTemplates []struct {
			Name          string          `json:"name"`
			ComponentTemplate json.RawMessage `json:"component_template"`
		} `json:"component_templates"`
	}
	if status, err := l.get(ctx, "/_component_template", &comp); err != nil {
		return out, err
	} else if status == 200 {
		for _, ct := range comp.ComponentTemplates {
			out.ComponentTemplates = append(out.ComponentTemplates, Item{Kind: KindComponentTemplate, Name: ct.Name, TargetPath: "/_component_template/" + ct.Name, Body: ct.ComponentTemplate})
		}
	}

	var idxTpl struct {
		IndexTemplates []struct {
			Name          string          `json:"name"`
			IndexTemplate json.RawMessage `json:"index_template"`
		} `json:"index_templates"`
	}
	if status, err := l.get(ctx, "/_index_template", &idxTpl); err != nil {
		return out, err
	} else if status == 200 {
		for _, it := range idxTpl.IndexTemplates {
			out.IndexTemplates = append(out.IndexTemplates, Item{Kind: KindIndexTemplate, Name: it.Name, TargetPath: "/_index_template/" + it.Name, Body: it.IndexTemplate})
		}
	}

	return out, nil
}

func (l *LiveSource) ReadIndexMetadata(ctx context.Context, indexName string) (IndexMetadata, error) {
	var raw map[string]struct {
		Settings json.RawMessage            `json:"settings"`
		Mappings json.RawMessage            `json:"mappings"`
		Aliases  map[string]json.RawMessage `json:"aliases"`
	}
	status, err := l.get(ctx, "/"+indexName, &raw)
	if err != nil {
		return IndexMetadata{}, err
	}
	if status != 200 {
		return IndexMetadata{}, cmn.NewError(cmn.KindInvalidResponse, "get index %s: status %d", indexName, status)
	}
	entry, ok := raw[indexName]
	if !ok {
		return IndexMetadata{}, cmn.NewError(cmn.KindInvalidResponse, "index %s absent from its own GET response", indexName)
	}
	out := IndexMetadata{Settings: entry.Settings, Mappings: entry.Mappings}
	for name, body := range entry.Aliases {
		out.Aliases = append(out.Aliases, Item{
			Kind:       KindAlias,
			Name:       name,
			TargetPath: "/" + indexName + "/_alias/" + name,
			Body:       body,
		})
	}
	return out, nil
}
