package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ashour158/People-sub002/internal/application/port"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

// graphCache keeps compiled definitions. Stored definitions never change,
// so entries only expire to bound memory.
type graphCache struct {
	defs   port.DefinitionRepository
	expiry time.Duration

	mu         sync.RWMutex
	graphs     map[string]*domainwf.Graph
	lastAccess map[string]time.Time
}

func newGraphCache(defs port.DefinitionRepository, expiry time.Duration) *graphCache {
	return &graphCache{
		defs:       defs,
		expiry:     expiry,
		graphs:     make(map[string]*domainwf.Graph),
		lastAccess: make(map[string]time.Time),
	}
}

// get returns the compiled graph for a definition id, loading it on a miss
func (c *graphCache) get(ctx context.Context, definitionID string) (*domainwf.Graph, error) {
	c.mu.RLock()
	g, ok := c.graphs[definitionID]
	last := c.lastAccess[definitionID]
	c.mu.RUnlock()

	if ok && time.Since(last) < c.expiry {
		c.mu.Lock()
		c.lastAccess[definitionID] = time.Now()
		c.mu.Unlock()
		return g, nil
	}

	def, err := c.defs.GetByID(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("definition %s: %w", definitionID, ErrNotFound)
	}
	return c.put(def)
}

// put compiles and caches a definition
func (c *graphCache) put(def *domainwf.Definition) (*domainwf.Graph, error) {
	g, err := domainwf.Compile(def)
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition %s: %w", def.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs[def.ID] = g
	c.lastAccess[def.ID] = time.Now()

	for id, at := range c.lastAccess {
		if time.Since(at) >= c.expiry {
			delete(c.graphs, id)
			delete(c.lastAccess, id)
		}
	}
	return g, nil
}

// forDefinition returns the cached graph for an already loaded definition
func (c *graphCache) forDefinition(def *domainwf.Definition) (*domainwf.Graph, error) {
	c.mu.RLock()
	g, ok := c.graphs[def.ID]
	c.mu.RUnlock()
	if ok {
		return g, nil
	}
	return c.put(def)
}
