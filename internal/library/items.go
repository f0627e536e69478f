package library

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/fsutil"
	"github.com/loqalabs/readaloud/internal/normalize"
)

type Kind string

const (
	KindDocument Kind = "document"
	KindBook     Kind = "book"
)

const (
	DefaultLanguage = "english"
	documentFile    = "document.md"
)

// Item is one entry of the library: a single document or a book of chapters.
type Item struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Title          string    `json:"title"`
	Filename       string    `json:"filename,omitempty"`
	ContentHash    string    `json:"content_hash"`
	Language       string    `json:"language"`
	Voice          string    `json:"voice,omitempty"`
	WordCount      int       `json:"word_count"`
	AudioGenerated bool      `json:"audio_generated"`
	AudioDuration  float64   `json:"audio_duration_seconds,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Chapters       []Chapter `json:"chapters,omitempty"`
}

type Chapter struct {
	Index         int     `json:"index"`
	Title         string  `json:"title"`
	WordCount     int     `json:"word_count"`
	AudioPath     string  `json:"audio_path,omitempty"`
	AudioDuration float64 `json:"audio_duration_seconds,omitempty"`
}

// ContentHash is the duplicate-detection key of raw document content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CreateDocument stores markdown as a new single-document item. The title
// defaults to the first heading, then to the file name without extension.
func (l *Library) CreateDocument(ctx context.Context, markdown, filename, title string) (Item, error) {
	text, err := normalize.Markdown(markdown)
	if err != nil {
		return Item{}, err
	}
	item := Item{
		ID:          uuid.NewString(),
		Kind:        KindDocument,
		Title:       pickTitle(title, markdown, filename),
		Filename:    filename,
		ContentHash: ContentHash(markdown),
		Language:    DefaultLanguage,
		WordCount:   chunker.CountWords(text),
		CreatedAt:   l.clock().UTC(),
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(l.ItemDir(item.ID), documentFile), []byte(markdown)); err != nil {
		return Item{}, fmt.Errorf("store document: %w", err)
	}
	if err := l.insertItem(ctx, l.db, item); err != nil {
		os.RemoveAll(l.ItemDir(item.ID))
		return Item{}, err
	}
	return item, nil
}

// CreateBook stores chapters as a new book. contentHash may be empty, in
// which case it is computed over the joined chapter contents.
func (l *Library) CreateBook(ctx context.Context, title, filename string, chapters []chunker.Chapter, contentHash string) (item Item, err error) {
	if len(chapters) == 0 {
		return Item{}, errors.New("book has no chapters")
	}
	if contentHash == "" {
		parts := make([]string, len(chapters))
		for i, ch := range chapters {
			parts[i] = ch.Content
		}
		contentHash = ContentHash(strings.Join(parts, "\n\n"))
	}
	item = Item{
		ID:          uuid.NewString(),
		Kind:        KindBook,
		Title:       title,
		Filename:    filename,
		ContentHash: contentHash,
		Language:    DefaultLanguage,
		CreatedAt:   l.clock().UTC(),
		Chapters:    make([]Chapter, len(chapters)),
	}
	if item.Title == "" {
		item.Title = pickTitle("", "", filename)
	}
	for i, ch := range chapters {
		item.WordCount += ch.WordCount
		item.Chapters[i] = Chapter{Index: i, Title: ch.Title, WordCount: ch.WordCount}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = l.insertItem(ctx, tx, item); err != nil {
		return Item{}, err
	}
	for i, ch := range chapters {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chapters(item_id, idx, title, content, word_count) VALUES(?, ?, ?, ?, ?)`,
			item.ID, i, ch.Title, ch.Content, ch.WordCount)
		if err != nil {
			return Item{}, fmt.Errorf("insert chapter %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return Item{}, err
	}
	if err := os.MkdirAll(l.ItemDir(item.ID), 0o755); err != nil {
		return Item{}, fmt.Errorf("create item dir: %w", err)
	}
	return item, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *Library) insertItem(ctx context.Context, db execer, item Item) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO items(id, kind, title, filename, content_hash, language, voice, word_count, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Kind), item.Title, item.Filename, item.ContentHash, item.Language, item.Voice,
		item.WordCount, item.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// ImportOptions controls Import.
type ImportOptions struct {
	Title     string
	Force     bool
	AutoChunk chunker.AutoChunk
}

// ImportResult reports the stored item, or the existing one when the content
// was already in the library.
type ImportResult struct {
	Item      Item
	Duplicate bool
}

// Import adds raw markdown to the library. Identical content is reported as
// a duplicate unless Force is set. Long documents with enough headings
// become books of chapters; a zero AutoChunk disables this.
func (l *Library) Import(ctx context.Context, markdown, filename string, opts ImportOptions) (ImportResult, error) {
	hash := ContentHash(markdown)
	if !opts.Force {
		existing, err := l.FindByHash(ctx, hash)
		if err == nil {
			return ImportResult{Item: existing, Duplicate: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return ImportResult{}, err
		}
	}

	if opts.AutoChunk.WordThreshold > 0 && opts.AutoChunk.Applies(markdown) {
		item, err := l.CreateBook(ctx, pickTitle(opts.Title, markdown, filename), filename, chunker.SplitChapters(markdown), hash)
		return ImportResult{Item: item}, err
	}
	item, err := l.CreateDocument(ctx, markdown, filename, opts.Title)
	return ImportResult{Item: item}, err
}

func pickTitle(title, markdown, filename string) string {
	if title != "" {
		return title
	}
	if h := chunker.FirstHeading(markdown); h != "" {
		return h
	}
	if filename != "" {
		base := filepath.Base(filename)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "Untitled"
}

const itemColumns = `id, kind, title, filename, content_hash, language, voice, word_count, audio_generated, audio_duration, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (Item, error) {
	var (
		item                      Item
		kind                      string
		filename, language, voice sql.NullString
		generated                 int
		created                   int64
	)
	err := row.Scan(&item.ID, &kind, &item.Title, &filename, &item.ContentHash, &language, &voice,
		&item.WordCount, &generated, &item.AudioDuration, &created)
	if err != nil {
		return Item{}, err
	}
	item.Kind = Kind(kind)
	item.Filename = filename.String
	item.Language = language.String
	item.Voice = voice.String
	item.AudioGenerated = generated != 0
	item.CreatedAt = time.Unix(0, created).UTC()
	return item, nil
}

// Get returns one item with its chapters.
func (l *Library) Get(ctx context.Context, id string) (Item, error) {
	item, err := scanItem(l.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	if item.Kind == KindBook {
		if item.Chapters, err = l.chapters(ctx, id); err != nil {
			return Item{}, err
		}
	}
	return item, nil
}

func (l *Library) chapters(ctx context.Context, id string) ([]Chapter, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT idx, title, word_count, audio_path, audio_duration FROM chapters WHERE item_id = ? ORDER BY idx ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chapter
	for rows.Next() {
		var ch Chapter
		var path sql.NullString
		if err := rows.Scan(&ch.Index, &ch.Title, &ch.WordCount, &path, &ch.AudioDuration); err != nil {
			return nil, err
		}
		ch.AudioPath = path.String
		out = append(out, ch)
	}
	return out, rows.Err()
}

// List returns all items, newest first, without chapter details.
func (l *Library) List(ctx context.Context) ([]Item, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FindByHash returns the first item stored with the given content hash.
func (l *Library) FindByHash(ctx context.Context, hash string) (Item, error) {
	item, err := scanItem(l.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE content_hash = ? ORDER BY created_at ASC LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return item, err
}

// Delete removes the item from the index and its directory from disk.
func (l *Library) Delete(ctx context.Context, id string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := os.RemoveAll(l.ItemDir(id)); err != nil {
		return fmt.Errorf("remove item dir: %w", err)
	}
	return nil
}

// SetVoice records the voice and language used for future generations.
func (l *Library) SetVoice(ctx context.Context, id, voice, language string) error {
	if language == "" {
		language = DefaultLanguage
	}
	res, err := l.db.ExecContext(ctx, `UPDATE items SET voice = ?, language = ? WHERE id = ?`, voice, language, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Text returns the markdown to synthesize: the document for a document
// item, or one chapter of a book when chapter >= 0.
func (l *Library) Text(ctx context.Context, id string, chapter int) (string, error) {
	item, err := l.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if chapter < 0 {
		if item.Kind != KindDocument {
			return "", ErrNoDocument
		}
		data, err := os.ReadFile(filepath.Join(l.ItemDir(id), documentFile))
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		return string(data), nil
	}
	if item.Kind != KindBook {
		return "", ErrNotBook
	}
	var content string
	err = l.db.QueryRowContext(ctx, `SELECT content FROM chapters WHERE item_id = ? AND idx = ?`, id, chapter).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoChapter
	}
	return content, err
}

// MarkGenerated records that audio exists for the item, or for one chapter
// when chapter >= 0. A book counts as generated once every chapter has audio.
func (l *Library) MarkGenerated(ctx context.Context, id string, chapter int, duration float64) (err error) {
	if chapter < 0 {
		res, err := l.db.ExecContext(ctx,
			`UPDATE items SET audio_generated = 1, audio_duration = ? WHERE id = ?`, duration, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	}

	item, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Kind != KindBook {
		return ErrNotBook
	}
	if chapter >= len(item.Chapters) {
		return ErrNoChapter
	}
	audioPath, _, err := l.Paths(item, chapter)
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`UPDATE chapters SET audio_path = ?, audio_duration = ? WHERE item_id = ? AND idx = ?`,
		audioPath, duration, id, chapter); err != nil {
		return err
	}
	var missing int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chapters WHERE item_id = ? AND (audio_path IS NULL OR audio_path = '')`, id).Scan(&missing); err != nil {
		return err
	}
	generated := 0
	if missing == 0 {
		generated = 1
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE items SET audio_generated = ?, audio_duration = (SELECT COALESCE(SUM(audio_duration), 0) FROM chapters WHERE item_id = ?) WHERE id = ?`,
		generated, id, id); err != nil {
		return err
	}
	return tx.Commit()
}
