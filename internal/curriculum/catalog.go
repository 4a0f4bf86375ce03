package curriculum

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const labelSeparator = " › "

// Catalog is a read-only index of strand/chapter/subtopic names.
type Catalog struct {
	mu     sync.RWMutex
	names  map[string]string
	labels map[string]string
	paths  []string
	logger zerolog.Logger
}

// NewCatalog builds an empty catalog; unknown paths fall back to humanized names.
func NewCatalog(logger zerolog.Logger) *Catalog {
	return &Catalog{
		names:  make(map[string]string),
		labels: make(map[string]string),
		logger: logger.With().Str("component", "topic_catalog").Logger(),
	}
}

// LoadDir reads every .yaml/.yml file below rootDir into a new catalog.
// A missing directory yields an empty catalog.
func LoadDir(rootDir string, logger zerolog.Logger) (*Catalog, error) {
	catalog := NewCatalog(logger)
	if strings.TrimSpace(rootDir) == "" {
		return catalog, nil
	}

	if _, err := os.Stat(rootDir); err != nil {
		if os.IsNotExist(err) {
			catalog.logger.Warn().Str("dir", rootDir).Msg("topic catalog directory missing")
			return catalog, nil
		}
		return nil, fmt.Errorf("stat topic catalog: %w", err)
	}

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := catalog.Load(data); err != nil {
			catalog.logger.Warn().Err(err).Str("path", path).Msg("skipping invalid topic file")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading topic catalog: %w", err)
	}

	catalog.logger.Info().Int("topics", catalog.Len()).Msg("topic catalog loaded")
	return catalog, nil
}

// Load merges a YAML catalog document into the catalog.
func (c *Catalog) Load(data []byte) error {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, strand := range doc.Strands {
		strandID := strings.TrimSpace(strand.ID)
		if strandID == "" {
			continue
		}
		strandName := nameOr(strand.Name, strandID)
		c.register(strandID, strandName, strandName)

		for _, chapter := range strand.Chapters {
			chapterID := strings.TrimSpace(chapter.ID)
			if chapterID == "" {
				continue
			}
			chapterPath := strandID + "/" + chapterID
			chapterName := nameOr(chapter.Name, chapterID)
			c.register(chapterPath, chapterName, strandName+labelSeparator+chapterName)

			for _, subtopic := range chapter.Subtopics {
				subtopicID := strings.TrimSpace(subtopic.ID)
				if subtopicID == "" {
					continue
				}
				subtopicName := nameOr(subtopic.Name, subtopicID)
				c.register(chapterPath+"/"+subtopicID, subtopicName, strandName+labelSeparator+chapterName+labelSeparator+subtopicName)
			}
		}
	}

	sort.Strings(c.paths)
	return nil
}

func (c *Catalog) register(path, name, label string) {
	if _, exists := c.names[path]; !exists {
		c.paths = append(c.paths, path)
	}
	c.names[path] = name
	c.labels[path] = label
}

// Len returns the number of known topic paths.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.paths)
}

// DisplayName returns the most specific name for a topic path.
func (c *Catalog) DisplayName(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return ""
	}

	c.mu.RLock()
	name, ok := c.names[path]
	c.mu.RUnlock()
	if ok {
		return name
	}

	segments := strings.Split(path, "/")
	return Humanize(segments[len(segments)-1])
}

// ListTopicPaths returns every known path with its full label, sorted by path.
func (c *Catalog) ListTopicPaths() []TopicOption {
	c.mu.RLock()
	defer c.mu.RUnlock()

	options := make([]TopicOption, 0, len(c.paths))
	for _, path := range c.paths {
		options = append(options, TopicOption{Path: path, Label: c.labels[path]})
	}
	return options
}

// Humanize turns an identifier such as "data_analysis" into "Data Analysis".
func Humanize(id string) string {
	replaced := strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(id))
	return cases.Title(language.English).String(strings.Join(strings.Fields(replaced), " "))
}

func nameOr(name, id string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return Humanize(id)
}
