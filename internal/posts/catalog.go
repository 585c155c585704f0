package posts

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"
)

const (
	extensionMDX = ".mdx"
	extensionMD  = ".md"
)

var (
	// ErrPostNotFound indicates that no content file exists for a slug.
	ErrPostNotFound = errors.New("posts: post not found")

	frontMatterDelimiter = []byte("---")
)

// Post is a blog entry parsed from a markdown file.
type Post struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Date        string   `json:"date"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Tags        []string `json:"tags"`
	Content     string   `json:"-"`
}

type frontMatter struct {
	Title       string   `yaml:"title"`
	Date        string   `yaml:"date"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags"`
}

type CatalogConfig struct {
	Dir           string
	DefaultAuthor string
	Logger        *zap.Logger
}

// Catalog reads posts from a directory of .md and .mdx files on every call.
type Catalog struct {
	dir           string
	defaultAuthor string
	logger        *zap.Logger
}

func NewCatalog(cfg CatalogConfig) *Catalog {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{dir: cfg.Dir, defaultAuthor: cfg.DefaultAuthor, logger: logger}
}

// All returns every readable post, newest first. A missing directory yields no posts.
func (c *Catalog) All() ([]Post, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Post{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read posts directory: %w", err)
	}

	posts := make([]Post, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		extension := filepath.Ext(name)
		if extension != extensionMDX && extension != extensionMD {
			continue
		}
		slug := strings.TrimSuffix(name, extension)
		post, err := c.load(slug, filepath.Join(c.dir, name))
		if err != nil {
			c.logger.Warn("skipping unreadable post",
				zap.String("file", name),
				zap.Error(err))
			continue
		}
		posts = append(posts, post)
	}

	sort.SliceStable(posts, func(left, right int) bool {
		return posts[left].Date > posts[right].Date
	})
	return posts, nil
}

// BySlug returns the post stored as <slug>.mdx, falling back to <slug>.md.
func (c *Catalog) BySlug(slug string) (Post, error) {
	if !validSlug(slug) {
		return Post{}, ErrPostNotFound
	}
	for _, extension := range []string{extensionMDX, extensionMD} {
		path := filepath.Join(c.dir, slug+extension)
		post, err := c.load(slug, path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Post{}, err
		}
		return post, nil
	}
	return Post{}, ErrPostNotFound
}

func (c *Catalog) load(slug, path string) (Post, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Post{}, err
	}
	meta, body, err := splitFrontMatter(raw)
	if err != nil {
		return Post{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	post := Post{
		Slug:        slug,
		Title:       meta.Title,
		Date:        meta.Date,
		Description: meta.Description,
		Author:      meta.Author,
		Tags:        meta.Tags,
		Content:     body,
	}
	if post.Author == "" {
		post.Author = c.defaultAuthor
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	return post, nil
}

func splitFrontMatter(raw []byte) (frontMatter, string, error) {
	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	var meta frontMatter
	if !bytes.HasPrefix(normalized, append(append([]byte{}, frontMatterDelimiter...), '\n')) {
		return meta, string(normalized), nil
	}
	rest := normalized[len(frontMatterDelimiter)+1:]
	header, body, found := cutDelimiterLine(rest)
	if !found {
		return meta, "", errors.New("unterminated front matter")
	}
	if err := yaml.Unmarshal(header, &meta); err != nil {
		return meta, "", fmt.Errorf("front matter: %w", err)
	}
	return meta, string(body), nil
}

func cutDelimiterLine(content []byte) ([]byte, []byte, bool) {
	offset := 0
	for offset <= len(content) {
		lineEnd := bytes.IndexByte(content[offset:], '\n')
		var line []byte
		next := len(content)
		if lineEnd < 0 {
			line = content[offset:]
		} else {
			line = content[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		}
		if bytes.Equal(bytes.TrimRight(line, " \t"), frontMatterDelimiter) {
			return content[:offset], content[next:], true
		}
		if lineEnd < 0 {
			break
		}
		offset = next
	}
	return nil, nil, false
}

func validSlug(slug string) bool {
	if slug == "" || slug == "." || slug == ".." {
		return false
	}
	return !strings.ContainsAny(slug, `/\`) && !strings.Contains(slug, "..")
}
