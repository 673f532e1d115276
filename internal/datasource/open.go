package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// GroupSpec describes a replica group of physical data sources.
type GroupSpec struct {
	Name                 string
	Master               Spec
	Slaves               []Spec
	LoadBalanceAlgorithm string
}

// OpenAll opens and pings every plain data source and every group member
// concurrently, and returns the handles keyed by plain name or group name.
// If anything fails, whatever was opened is closed again.
func OpenAll(ctx context.Context, plain []Spec, groups []GroupSpec) (map[string]DataSource, error) {
	var (
		mu     sync.Mutex
		opened = make(map[string]*SingleDB)
	)

	g, gctx := errgroup.WithContext(ctx)
	open := func(spec Spec) {
		g.Go(func() error {
			db, err := OpenSingleDB(spec)
			if err != nil {
				return err
			}
			mu.Lock()
			_, dup := opened[spec.Name]
			if !dup {
				opened[spec.Name] = db
			}
			mu.Unlock()
			if dup {
				_ = db.Close()
				return fmt.Errorf("datasource %s: declared twice", spec.Name)
			}
			if err := db.Ping(gctx); err != nil {
				return fmt.Errorf("datasource %s: ping: %w", spec.Name, err)
			}
			return nil
		})
	}
	for _, spec := range plain {
		open(spec)
	}
	for _, group := range groups {
		open(group.Master)
		for _, slave := range group.Slaves {
			open(slave)
		}
	}

	if err := g.Wait(); err != nil {
		for _, db := range opened {
			_ = db.Close()
		}
		return nil, err
	}

	handles := make(map[string]DataSource, len(plain)+len(groups))
	for _, spec := range plain {
		handles[spec.Name] = opened[spec.Name]
	}
	for _, group := range groups {
		slaves := make([]DataSource, 0, len(group.Slaves))
		for _, s := range group.Slaves {
			slaves = append(slaves, opened[s.Name])
		}
		if _, taken := handles[group.Name]; taken {
			for _, db := range opened {
				_ = db.Close()
			}
			return nil, fmt.Errorf("datasource %s: group name already used", group.Name)
		}
		ms, err := NewMasterSlavesDB(group.Name, opened[group.Master.Name], slaves, group.LoadBalanceAlgorithm)
		if err != nil {
			for _, db := range opened {
				_ = db.Close()
			}
			return nil, err
		}
		handles[group.Name] = ms
	}
	return handles, nil
}

// CloseAll closes every handle and reports all failures.
func CloseAll(handles map[string]DataSource) error {
	var result *multierror.Error
	for name, ds := range handles {
		if err := ds.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
