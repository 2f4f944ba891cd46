package archive

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotArchived is returned when a proposal has no archived signature.
var ErrNotArchived = errors.New("signature not archived")

const (
	documentFile  = "document.cbor"
	signatureFile = "signature.hex"
	manifestFile  = "manifest.json"
	branchName    = "main"
)

// Entry is one signed document as written to the ledger.
type Entry struct {
	ProposalID string    `json:"proposalId"`
	SnapshotID string    `json:"snapshotId"`
	Version    int       `json:"version"`
	Digest     string    `json:"digest"`
	SignerName string    `json:"signerName"`
	SignedAt   time.Time `json:"signedAt"`
	Document   []byte    `json:"-"`
	Signature  []byte    `json:"-"`
}

// Commit describes the ledger commit that recorded an entry.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ledger keeps one append-only git repository per proposal holding the
// canonical signed document and its signature.
type Ledger struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Ledger {
	return &Ledger{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits entry to the proposal's ledger and tags it with the
// snapshot version. A proposal can be recorded only once.
func (l *Ledger) Record(entry Entry) (Commit, error) {
	lock := l.proposalLock(entry.ProposalID)
	lock.Lock()
	defer lock.Unlock()

	path := l.repoPath(entry.ProposalID)
	if _, err := os.Stat(path); err == nil {
		return Commit{}, fmt.Errorf("ledger for %s already exists", entry.ProposalID)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Commit{}, fmt.Errorf("stat ledger path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Commit{}, fmt.Errorf("create ledger dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return Commit{}, fmt.Errorf("init ledger: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	manifest, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal manifest: %w", err)
	}
	files := map[string][]byte{
		documentFile:  entry.Document,
		signatureFile: []byte(hex.EncodeToString(entry.Signature) + "\n"),
		manifestFile:  append(manifest, '\n'),
	}
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(path, name), contents, 0o644); err != nil {
			return Commit{}, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			return Commit{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	message := fmt.Sprintf("Signed version %d\n\ndigest: %s", entry.Version, entry.Digest)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  entry.SignerName,
			Email: "signatures@proppy.local",
			When:  entry.SignedAt,
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit signature: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(branchName), hash)); err != nil {
		return Commit{}, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branchName))); err != nil {
		return Commit{}, fmt.Errorf("set HEAD to main: %w", err)
	}
	if _, err := repo.CreateTag(fmt.Sprintf("v%d", entry.Version), hash, nil); err != nil && !errors.Is(err, git.ErrTagExists) {
		return Commit{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// Read returns the archived entry from the head of the proposal's ledger.
func (l *Ledger) Read(proposalID string) (Entry, Commit, error) {
	lock := l.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(l.repoPath(proposalID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Entry{}, Commit{}, ErrNotArchived
	}
	if err != nil {
		return Entry{}, Commit{}, fmt.Errorf("open ledger: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return Entry{}, Commit{}, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Entry{}, Commit{}, fmt.Errorf("load commit object: %w", err)
	}

	var entry Entry
	manifest, err := readFile(commitObj, manifestFile)
	if err != nil {
		return Entry{}, Commit{}, err
	}
	if err := json.Unmarshal(manifest, &entry); err != nil {
		return Entry{}, Commit{}, fmt.Errorf("decode manifest: %w", err)
	}
	if entry.Document, err = readFile(commitObj, documentFile); err != nil {
		return Entry{}, Commit{}, err
	}
	signature, err := readFile(commitObj, signatureFile)
	if err != nil {
		return Entry{}, Commit{}, err
	}
	if entry.Signature, err = hex.DecodeString(strings.TrimSpace(string(signature))); err != nil {
		return Entry{}, Commit{}, fmt.Errorf("decode signature: %w", err)
	}
	return entry, toCommit(commitObj), nil
}

func (l *Ledger) repoPath(proposalID string) string {
	return filepath.Join(l.baseDir, proposalID)
}

func (l *Ledger) proposalLock(proposalID string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	lock, ok := l.locks[proposalID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	l.locks[proposalID] = lock
	return lock
}

func readFile(commitObj *object.Commit, name string) ([]byte, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer reader.Close()

	contents, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return contents, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		CreatedAt: commitObj.Author.When,
	}
}
