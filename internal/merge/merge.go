// Package merge reconciles freshly scraped snapshots with existing
// page records. It is a pure transformation: no I/O, no shared state.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/growthdesk/scout/internal/scout"
)

// Merge combines a scrape snapshot with the existing page record, if
// any, and returns the record to persist plus warnings for the job
// result.
//
// Scraped attributes are replaced by the snapshot, except sub-fields
// the capture missed (nil pointers), which retain their previous value
// and produce a warning instead of failing the merge. Operator
// attributes are carried over untouched. Linkage is the union of old
// and new observations; an absent observation never removes a
// previously recorded client ref. Applying the same snapshot twice
// yields the same record, which keeps re-executed jobs harmless.
func Merge(existing *scout.Page, snap scout.Snapshot) (scout.Page, []string) {
	username := strings.ToLower(strings.TrimSpace(snap.Username))

	var page scout.Page
	var warnings []string
	if existing != nil {
		page = *existing
	} else {
		page.Username = username
	}

	prev := page.Scraped
	next := scout.ScrapedAttributes{
		FullName:       prev.FullName,
		FollowerCount:  prev.FollowerCount,
		FollowingCount: prev.FollowingCount,
		PostCount:      prev.PostCount,
		Biography:      prev.Biography,
		IsVerified:     prev.IsVerified,
		IsPrivate:      prev.IsPrivate,
		ContactEmail:   prev.ContactEmail,
		PromoStatus:    prev.PromoStatus,
		PromoSignals:   prev.PromoSignals,
	}

	if snap.FullName != nil {
		next.FullName = *snap.FullName
	}
	if snap.FollowerCount != nil {
		next.FollowerCount = *snap.FollowerCount
	} else if existing != nil {
		warnings = append(warnings, retained(username, "follower_count"))
	}
	if snap.FollowingCount != nil {
		next.FollowingCount = *snap.FollowingCount
	} else if existing != nil {
		warnings = append(warnings, retained(username, "following_count"))
	}
	if snap.PostCount != nil {
		next.PostCount = *snap.PostCount
	} else if existing != nil {
		warnings = append(warnings, retained(username, "post_count"))
	}
	if snap.Biography != nil {
		next.Biography = *snap.Biography
	}
	if snap.IsVerified != nil {
		next.IsVerified = *snap.IsVerified
	}
	if snap.IsPrivate != nil {
		next.IsPrivate = *snap.IsPrivate
	}
	if snap.ContactEmail != nil {
		next.ContactEmail = *snap.ContactEmail
	}
	if snap.PromoStatus != nil {
		next.PromoStatus = *snap.PromoStatus
		next.PromoSignals = append([]string(nil), snap.PromoSignals...)
	}

	capturedAt := snap.CapturedAt
	next.LastScraped = &capturedAt
	next.LastScrapeStatus = "success"

	page.Scraped = next
	page.Linkage = unionLinkage(page.Linkage, snap.ObservedClients)
	// page.Operator intentionally untouched: humans own those fields.
	return page, warnings
}

func retained(username, field string) string {
	return fmt.Sprintf("@%s: %s missing from capture, keeping previous value", username, field)
}

func unionLinkage(linkage scout.LinkageAttributes, observed []string) scout.LinkageAttributes {
	if len(observed) == 0 {
		linkage.ClientCount = len(linkage.ClientRefs)
		return linkage
	}
	seen := make(map[string]struct{}, len(linkage.ClientRefs)+len(observed))
	for _, ref := range linkage.ClientRefs {
		seen[ref] = struct{}{}
	}
	for _, ref := range observed {
		ref = strings.ToLower(strings.TrimSpace(ref))
		if ref == "" {
			continue
		}
		seen[ref] = struct{}{}
	}
	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return scout.LinkageAttributes{ClientRefs: refs, ClientCount: len(refs)}
}
