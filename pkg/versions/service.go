// Package versions implements project version history: snapshot creation,
// anchor+delta compression, pinning, pruning, rollback, and branching.
//
// Storage layout: every version row has its content reachable either as an
// inline snapshot or as a patch chained to a newer anchor snapshot. The
// newest few non-failed versions and all pinned versions stay inline;
// everything older is compressed to patches in one transaction.
package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
)

// ErrDiffChainBroken is returned when a version's content cannot be
// reconstructed because a patch in its chain fails to apply.
var ErrDiffChainBroken = errors.New("version diff chain broken")

// maxChainLength bounds diff-chain walks against corrupt base references.
const maxChainLength = 1000

// Storage is what the service needs from the store.
type Storage interface {
	store.VersionStore
	store.PageStore
	store.BranchStore
}

// Service manages version history for projects.
type Service struct {
	store Storage
	// limit caps versions per branch; -1 means unlimited.
	limit int
	dmp   *diffmatchpatch.DiffMatchPatch
}

// New creates a version service with the given per-branch version limit
// (-1 for unlimited).
func New(st Storage, limit int) *Service {
	return &Service{store: st, limit: limit, dmp: diffmatchpatch.New()}
}

// CreateOptions carries the metadata of a new version.
type CreateOptions struct {
	ParentID         string
	ValidationStatus models.ValidationStatus
	Description      string
	TasksCompleted   []string
}

// CreateFromProject snapshots the branch's current pages as a new version,
// then runs the compression and pruning passes in the same transaction.
func (s *Service) CreateFromProject(ctx context.Context, projectID, branchID string, opts CreateOptions) (*models.Version, error) {
	pages, err := s.store.ListPages(ctx, projectID, branchID)
	if err != nil {
		return nil, fmt.Errorf("reading project pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("project %s has no pages to version", projectID)
	}
	content := toContent(pages)

	parentID := opts.ParentID
	if parentID == "" {
		existing, err := s.store.ListVersions(ctx, projectID, branchID)
		if err != nil {
			return nil, fmt.Errorf("listing versions: %w", err)
		}
		if len(existing) > 0 {
			parentID = existing[0].ID
		}
	}

	var parentPages []models.PageContent
	if parentID != "" {
		parentPages, err = s.resolve(ctx, s.store, parentID)
		if err != nil {
			return nil, fmt.Errorf("loading parent version %s: %w", parentID, err)
		}
	}

	summary := summarize(parentPages, content)
	summary.Description = opts.Description
	summary.TasksCompleted = opts.TasksCompleted

	status := opts.ValidationStatus
	if status == "" {
		status = models.ValidationUnknown
	}

	version := &models.Version{
		ID:               uuid.New().String(),
		ProjectID:        projectID,
		BranchID:         branchID,
		ParentID:         parentID,
		Summary:          summary,
		ValidationStatus: status,
		CreatedAt:        time.Now().UTC(),
	}

	err = s.store.WithTx(ctx, func(tx store.VersionStore) error {
		if err := tx.CreateVersion(ctx, version); err != nil {
			return err
		}
		if err := tx.SaveSnapshot(ctx, &models.VersionSnapshot{
			VersionID: version.ID,
			Pages:     content,
			CreatedAt: version.CreatedAt,
		}); err != nil {
			return err
		}
		if err := s.compress(ctx, tx, projectID, branchID); err != nil {
			return err
		}
		if err := s.prune(ctx, tx, projectID, branchID); err != nil {
			return err
		}
		// Pruning can shift the snapshot window, so re-establish it.
		return s.compress(ctx, tx, projectID, branchID)
	})
	if err != nil {
		return nil, fmt.Errorf("creating version: %w", err)
	}
	return version, nil
}

// GetContent reconstructs a version's full page content, walking its diff
// chain when the snapshot was compressed away.
func (s *Service) GetContent(ctx context.Context, versionID string) ([]models.PageContent, error) {
	return s.resolve(ctx, s.store, versionID)
}

// Pin marks a version as pinned and materializes its snapshot so it
// survives pruning and never depends on other versions' rows.
func (s *Service) Pin(ctx context.Context, versionID string) error {
	return s.store.WithTx(ctx, func(tx store.VersionStore) error {
		version, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if version.Pinned {
			return nil
		}

		all, err := tx.ListVersions(ctx, version.ProjectID, version.BranchID)
		if err != nil {
			return err
		}
		pinned := 0
		for _, v := range all {
			if v.Pinned {
				pinned++
			}
		}
		if pinned >= models.MaxPinnedPerBranch {
			return fmt.Errorf("branch %s has %d pinned versions: %w",
				version.BranchID, pinned, store.ErrPinLimit)
		}

		if _, err := tx.GetSnapshot(ctx, versionID); errors.Is(err, store.ErrNotFound) {
			pages, rerr := s.resolve(ctx, tx, versionID)
			if rerr != nil {
				return rerr
			}
			if err := tx.SaveSnapshot(ctx, &models.VersionSnapshot{
				VersionID: versionID,
				Pages:     pages,
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
			if err := tx.DeleteDiff(ctx, versionID); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		version.Pinned = true
		return tx.UpdateVersion(ctx, version)
	})
}

// Unpin clears the pin; the next compression pass may turn the snapshot
// back into a diff.
func (s *Service) Unpin(ctx context.Context, versionID string) error {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if !version.Pinned {
		return nil
	}
	version.Pinned = false
	return s.store.UpdateVersion(ctx, version)
}

// RollbackPages replaces the branch's current pages with a version's
// content. Exactly one page ends up as home.
func (s *Service) RollbackPages(ctx context.Context, versionID string) error {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	content, err := s.resolve(ctx, s.store, versionID)
	if err != nil {
		return err
	}

	pages := make([]*models.ProjectPage, 0, len(content))
	sawHome := false
	for _, c := range content {
		page := &models.ProjectPage{
			ID:        uuid.New().String(),
			ProjectID: version.ProjectID,
			BranchID:  version.BranchID,
			Slug:      c.Slug,
			Name:      c.Name,
			Path:      c.Path,
			IsHome:    c.IsHome && !sawHome,
			HTML:      c.HTML,
			JS:        c.JS,
			UpdatedAt: time.Now().UTC(),
		}
		if page.IsHome {
			sawHome = true
			page.Path = "/"
		} else if page.Path == "/" || page.Path == "" {
			page.Path = "/" + page.Slug
		}
		pages = append(pages, page)
	}
	if !sawHome && len(pages) > 0 {
		pages[0].IsHome = true
		pages[0].Path = "/"
	}

	if err := s.store.ReplacePages(ctx, version.ProjectID, version.BranchID, pages); err != nil {
		return fmt.Errorf("replacing pages: %w", err)
	}
	return nil
}

// RestoreVersion rolls the branch back to a version's content and records
// the restore as a new version on top of the history.
func (s *Service) RestoreVersion(ctx context.Context, versionID string) (*models.Version, error) {
	if err := s.RollbackPages(ctx, versionID); err != nil {
		return nil, err
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return s.CreateFromProject(ctx, version.ProjectID, version.BranchID, CreateOptions{
		ValidationStatus: version.ValidationStatus,
		Description:      fmt.Sprintf("Restored from version %s", versionID),
	})
}

// CreateBranch forks a new branch from a version's content. The store
// enforces the per-project branch cap.
func (s *Service) CreateBranch(ctx context.Context, projectID, name, label, fromVersionID string) (*models.Branch, error) {
	branch := &models.Branch{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}

	if fromVersionID == "" {
		return branch, nil
	}

	content, err := s.resolve(ctx, s.store, fromVersionID)
	if err != nil {
		return nil, fmt.Errorf("loading fork point %s: %w", fromVersionID, err)
	}
	pages := make([]*models.ProjectPage, 0, len(content))
	for _, c := range content {
		pages = append(pages, &models.ProjectPage{
			ID:        uuid.New().String(),
			ProjectID: projectID,
			BranchID:  branch.ID,
			Slug:      c.Slug,
			Name:      c.Name,
			Path:      c.Path,
			IsHome:    c.IsHome,
			HTML:      c.HTML,
			JS:        c.JS,
			UpdatedAt: time.Now().UTC(),
		})
	}
	if err := s.store.ReplacePages(ctx, projectID, branch.ID, pages); err != nil {
		return nil, fmt.Errorf("copying pages to branch: %w", err)
	}

	_, err = s.CreateFromProject(ctx, projectID, branch.ID, CreateOptions{
		ValidationStatus: models.ValidationPassed,
		Description:      fmt.Sprintf("Branched from version %s", fromVersionID),
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

// compress turns old snapshots into patches. Keep inline: the newest
// SnapshotWindow non-failed versions plus every pinned version. Everything
// else diffs against the nearest newer inline version.
func (s *Service) compress(ctx context.Context, tx store.VersionStore, projectID, branchID string) error {
	all, err := tx.ListVersions(ctx, projectID, branchID)
	if err != nil {
		return err
	}

	keep := make(map[string]bool, len(all))
	recent := 0
	for _, v := range all {
		if v.Pinned {
			keep[v.ID] = true
		}
		if v.ValidationStatus != models.ValidationFailed && recent < models.SnapshotWindow {
			keep[v.ID] = true
			recent++
		}
	}

	for i, v := range all {
		if keep[v.ID] {
			continue
		}
		snap, err := tx.GetSnapshot(ctx, v.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue // already compressed
		}
		if err != nil {
			return err
		}

		// Nearest newer inline version anchors the patch.
		var anchor *models.Version
		for j := i - 1; j >= 0; j-- {
			if keep[all[j].ID] {
				anchor = all[j]
				break
			}
		}
		if anchor == nil {
			continue
		}
		anchorSnap, err := tx.GetSnapshot(ctx, anchor.ID)
		if err != nil {
			return fmt.Errorf("loading anchor snapshot %s: %w", anchor.ID, err)
		}

		patch, err := s.makePatch(anchorSnap.Pages, snap.Pages)
		if err != nil {
			return err
		}
		if err := tx.SaveDiff(ctx, &models.VersionDiff{
			VersionID:     v.ID,
			BaseVersionID: anchor.ID,
			Patch:         patch,
			CreatedAt:     time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.DeleteSnapshot(ctx, v.ID); err != nil {
			return err
		}
	}
	return nil
}

// prune deletes the oldest non-pinned versions beyond the branch limit.
// Versions serving as diff bases are skipped until their dependents are
// themselves compressed or deleted.
func (s *Service) prune(ctx context.Context, tx store.VersionStore, projectID, branchID string) error {
	if s.limit < 0 {
		return nil
	}
	all, err := tx.ListVersions(ctx, projectID, branchID)
	if err != nil {
		return err
	}
	count := len(all)
	if count <= s.limit {
		return nil
	}

	for i := len(all) - 1; i >= 0 && count > s.limit; i-- {
		v := all[i]
		if v.Pinned {
			continue
		}
		// A version serving as a diff base stays until its dependents go.
		deps, err := tx.ListDiffsBasedOn(ctx, v.ID)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			continue
		}
		if err := tx.DeleteVersion(ctx, v.ID); err != nil {
			return err
		}
		slog.Info("Pruned version beyond branch limit",
			"version_id", v.ID, "branch_id", branchID)
		count--
	}
	return nil
}

// resolve loads a version's content, iteratively walking the diff chain to
// its anchor snapshot and applying patches back down.
func (s *Service) resolve(ctx context.Context, st store.VersionStore, versionID string) ([]models.PageContent, error) {
	if snap, err := st.GetSnapshot(ctx, versionID); err == nil {
		return snap.Pages, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var chain []*models.VersionDiff
	cur := versionID
	var anchorText string
	for depth := 0; ; depth++ {
		if depth >= maxChainLength {
			return nil, fmt.Errorf("version %s: chain longer than %d: %w",
				versionID, maxChainLength, ErrDiffChainBroken)
		}
		diff, err := st.GetDiff(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("version %s has neither snapshot nor diff: %w",
				cur, ErrDiffChainBroken)
		}
		chain = append(chain, diff)

		snap, err := st.GetSnapshot(ctx, diff.BaseVersionID)
		if err == nil {
			anchorText = encodePages(snap.Pages)
			break
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		cur = diff.BaseVersionID
	}

	text := anchorText
	for i := len(chain) - 1; i >= 0; i-- {
		patches, err := s.dmp.PatchFromText(chain[i].Patch)
		if err != nil {
			return nil, fmt.Errorf("parsing patch for version %s: %w", chain[i].VersionID, err)
		}
		applied, results := s.dmp.PatchApply(patches, text)
		for _, ok := range results {
			if !ok {
				return nil, fmt.Errorf("applying patch for version %s: %w",
					chain[i].VersionID, ErrDiffChainBroken)
			}
		}
		text = applied
	}
	return decodePages(text)
}

func (s *Service) makePatch(basePages, targetPages []models.PageContent) (string, error) {
	baseText := encodePages(basePages)
	targetText := encodePages(targetPages)
	patches := s.dmp.PatchMake(baseText, targetText)
	return s.dmp.PatchToText(patches), nil
}

// encodePages renders pages as canonical JSON (sorted by slug) so patch
// texts are stable across processes.
func encodePages(pages []models.PageContent) string {
	cp := make([]models.PageContent, len(pages))
	copy(cp, pages)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Slug < cp[j].Slug })
	data, err := json.MarshalIndent(cp, "", " ")
	if err != nil {
		return ""
	}
	return string(data)
}

func decodePages(text string) ([]models.PageContent, error) {
	var pages []models.PageContent
	if err := json.Unmarshal([]byte(text), &pages); err != nil {
		return nil, fmt.Errorf("decoding reconstructed snapshot: %w", err)
	}
	return pages, nil
}

func toContent(pages []*models.ProjectPage) []models.PageContent {
	out := make([]models.PageContent, 0, len(pages))
	for _, p := range pages {
		out = append(out, models.PageContent{
			PageID: p.ID,
			Slug:   p.Slug,
			Name:   p.Name,
			Path:   p.Path,
			IsHome: p.IsHome,
			HTML:   p.HTML,
			JS:     p.JS,
		})
	}
	return out
}
