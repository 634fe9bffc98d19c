// Package catalog serves the streamer and streaming-room documents the
// frontend edits, plus the read-only prompt base document. All live in YAML
// files that operators may also edit by hand; Watch picks up those edits
// without a restart.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for unknown streamer or room ids.
var ErrNotFound = errors.New("catalog: not found")

// CharacterSeparator joins a streamer's character traits for display.
const CharacterSeparator = "、"

// Streamer is one virtual host persona.
type Streamer struct {
	ID                   int      `yaml:"id" json:"id"`
	Name                 string   `yaml:"name" json:"name"`
	Character            []string `yaml:"character" json:"-"`
	Value                string   `yaml:"value" json:"value"`
	Avatar               string   `yaml:"avatar" json:"avatar"`
	PosterImage          string   `yaml:"poster_image" json:"poster_image"`
	BaseMP4Path          string   `yaml:"base_mp4_path" json:"base_mp4_path"`
	TTSWeightTag         string   `yaml:"tts_weight_tag" json:"tts_weight_tag"`
	TTSReferenceSentence string   `yaml:"tts_reference_sentence" json:"tts_reference_sentence"`
	TTSReferenceAudio    string   `yaml:"tts_reference_audio" json:"tts_reference_audio"`
}

// MarshalJSON renders Character as one display string.
func (s Streamer) MarshalJSON() ([]byte, error) {
	type plain Streamer
	return json.Marshal(struct {
		plain
		Character string `json:"character"`
	}{plain(s), strings.Join(s.Character, CharacterSeparator)})
}

// Room is a streaming-room document. Rooms are edited wholesale by the
// frontend, so only room_id is interpreted.
type Room map[string]any

// ID returns the room_id field, or 0 when absent.
func (r Room) ID() int {
	switch v := r["room_id"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Catalog holds the loaded documents.
type Catalog struct {
	streamersPath string
	roomsPath     string
	logger        *slog.Logger

	mu        sync.RWMutex
	streamers []Streamer
	rooms     []Room

	watcher *fsnotify.Watcher

	promptBasePath string
	promptBase     map[string]any
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithPromptBase also serves the conversation prompt base document at path:
// the system prompt and product prompt templates the model was tuned with.
func WithPromptBase(path string) Option {
	return func(c *Catalog) {
		if path != "" {
			c.promptBasePath = filepath.Clean(path)
		}
	}
}

// Open loads the files. A missing file yields an empty list.
func Open(streamersPath, roomsPath string, logger *slog.Logger, opts ...Option) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		streamersPath: filepath.Clean(streamersPath),
		roomsPath:     filepath.Clean(roomsPath),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load re-reads the files. On error the previous contents are kept.
func (c *Catalog) Load() error {
	var streamers []Streamer
	if err := readYAML(c.streamersPath, &streamers); err != nil {
		return fmt.Errorf("load streamers from %s: %w", c.streamersPath, err)
	}
	var rooms []Room
	if err := readYAML(c.roomsPath, &rooms); err != nil {
		return fmt.Errorf("load rooms from %s: %w", c.roomsPath, err)
	}
	var promptBase map[string]any
	if c.promptBasePath != "" {
		if err := readYAML(c.promptBasePath, &promptBase); err != nil {
			return fmt.Errorf("load prompt base from %s: %w", c.promptBasePath, err)
		}
	}

	c.mu.Lock()
	c.streamers = streamers
	c.rooms = rooms
	c.promptBase = promptBase
	c.mu.Unlock()

	c.logger.Info("catalog loaded",
		slog.Int("streamers", len(streamers)),
		slog.Int("rooms", len(rooms)))
	return nil
}

// Streamers returns every streamer.
func (c *Catalog) Streamers() []Streamer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Streamer(nil), c.streamers...)
}

// Streamer returns the streamer with the given id.
func (c *Catalog) Streamer(id int) (Streamer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.streamers {
		if s.ID == id {
			return s, nil
		}
	}
	return Streamer{}, fmt.Errorf("streamer %d: %w", id, ErrNotFound)
}

// Rooms returns every room.
func (c *Catalog) Rooms() []Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Room(nil), c.rooms...)
}

// Room returns the room with the given id.
func (c *Catalog) Room(id int) (Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rooms {
		if r.ID() == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("room %d: %w", id, ErrNotFound)
}

// PromptBase returns the prompt base document. ErrNotFound is returned when
// none is configured or the file is missing or empty.
func (c *Catalog) PromptBase() (map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.promptBase == nil {
		return nil, fmt.Errorf("prompt base: %w", ErrNotFound)
	}
	return maps.Clone(c.promptBase), nil
}

// UpdateRoom replaces room id with room and persists the room file.
func (c *Catalog) UpdateRoom(id int, room Room) error {
	if room.ID() != id {
		return fmt.Errorf("room_id %d does not match path id %d", room.ID(), id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, r := range c.rooms {
		if r.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("room %d: %w", id, ErrNotFound)
	}

	rooms := append([]Room(nil), c.rooms...)
	rooms[idx] = room
	if err := writeYAML(c.roomsPath, rooms); err != nil {
		return err
	}
	c.rooms = rooms
	return nil
}

// Watch reloads the catalog whenever one of its files changes, until ctx is done.
// The parent directories are watched so editors that replace files by
// rename are seen too.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dirs := map[string]struct{}{
		filepath.Dir(c.streamersPath): {},
		filepath.Dir(c.roomsPath):     {},
	}
	if c.promptBasePath != "" {
		dirs[filepath.Dir(c.promptBasePath)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	c.mu.Lock()
	c.watcher = watcher
	c.mu.Unlock()

	c.logger.Info("watching catalog files for changes",
		slog.String("streamers", c.streamersPath),
		slog.String("rooms", c.roomsPath))

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				c.logger.Debug("catalog watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if name != c.streamersPath && name != c.roomsPath && name != c.promptBasePath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				c.logger.Info("catalog file changed, reloading", slog.String("path", name))
				if err := c.Load(); err != nil {
					c.logger.Error("failed to reload catalog",
						slog.String("error", err.Error()),
						slog.String("path", name))
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error("catalog watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
