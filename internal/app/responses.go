package app

import (
	"time"

	"proppy/api/internal/blocks"
	"proppy/api/internal/store"
)

func timeJSON(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func proposalJSON(p store.Proposal) map[string]any {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"id":              p.ID,
		"clientId":        p.ClientID,
		"shareUid":        p.ShareUID,
		"title":           p.Title,
		"tags":            tags,
		"status":          p.Status,
		"coverImageUrl":   p.CoverImageURL,
		"createdAt":       p.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":       p.UpdatedAt.UTC().Format(time.RFC3339),
		"changedStatusAt": timeJSON(p.ChangedStatusAt),
	}
}

// blocksJSON tags each block with owner, the proposal id for the editor or
// the share token on the public page.
func blocksJSON(list []blocks.Block, owner string) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, block := range list {
		payload := block.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		item := map[string]any{
			"uid":      block.UID,
			"type":     block.Type,
			"data":     payload,
			"ordering": block.Ordering,
			"version":  block.Version,
		}
		if owner != "" {
			item["proposalId"] = owner
		}
		out = append(out, item)
	}
	return out
}

func detailJSON(detail ProposalDetail) map[string]any {
	return map[string]any{
		"proposal": proposalJSON(detail.Proposal),
		"blocks":   blocksJSON(detail.Blocks, detail.Proposal.ID),
		"signed":   detail.Signed,
	}
}

func snapshotJSON(s store.Snapshot) map[string]any {
	sentTo := s.SentTo
	if sentTo == nil {
		sentTo = []string{}
	}
	return map[string]any{
		"id":            s.ID,
		"proposalId":    s.ProposalID,
		"version":       s.Version,
		"title":         s.Title,
		"coverImageUrl": s.CoverImageURL,
		"sentTo":        sentTo,
		"subject":       s.Subject,
		"from":          s.FromName,
		"body":          s.Body,
		"sentAt":        timeJSON(s.SentAt),
		"createdAt":     s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func threadsJSON(threads []store.Thread) []map[string]any {
	out := make([]map[string]any, 0, len(threads))
	for _, thread := range threads {
		comments := make([]map[string]any, 0, len(thread.Comments))
		for _, c := range thread.Comments {
			comments = append(comments, map[string]any{
				"id":         c.ID,
				"username":   c.Username,
				"comment":    c.Comment,
				"fromClient": c.FromClient,
				"createdAt":  c.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		out = append(out, map[string]any{
			"id":        thread.ID,
			"blockUid":  thread.BlockUID,
			"resolved":  thread.Resolved,
			"createdAt": thread.CreatedAt.UTC().Format(time.RFC3339),
			"comments":  comments,
		})
	}
	return out
}

// sharedJSON is the public view of a version. Internal ids stay hidden
// behind the share token.
func sharedJSON(view SharedView) map[string]any {
	token := view.Proposal.ShareUID
	return map[string]any{
		"shareUid":      token,
		"version":       view.Snapshot.Version,
		"title":         view.Snapshot.Title,
		"coverImageUrl": view.Snapshot.CoverImageURL,
		"createdAt":     view.Snapshot.CreatedAt.UTC().Format(time.RFC3339),
		"companyName":   view.CompanyName,
		"status":        view.Proposal.Status,
		"isLatest":      view.IsLatest,
		"signed":        view.Signed,
		"blocks":        blocksJSON(view.Blocks, token),
		"threads":       threadsJSON(view.Threads),
	}
}

func hookJSON(h store.HookEndpoint) map[string]any {
	return map[string]any{
		"id":        h.ID,
		"trigger":   h.Trigger,
		"targetUrl": h.TargetURL,
		"createdAt": h.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func clientJSON(c store.Client) map[string]any {
	contacts := c.Contacts
	if contacts == nil {
		contacts = []string{}
	}
	return map[string]any{
		"id":       c.ID,
		"name":     c.Name,
		"source":   c.Source,
		"contacts": contacts,
	}
}
