package blobstorage

import "fmt"

// Registry holds the containers built at startup and resolves them by store
// type and container id. Container counts are small, so lookups scan a slice.
type Registry struct {
	containers []Container
}

// NewRegistry creates a registry over the given containers. Every
// (StoreType, ContainerID) pair must be unique.
func NewRegistry(containers ...Container) (*Registry, error) {
	r := &Registry{containers: make([]Container, 0, len(containers))}
	for i, c := range containers {
		if c == nil {
			return nil, fmt.Errorf("container %d is nil", i)
		}
		if r.GetContainer(c.StoreType(), c.ContainerID()) != nil {
			return nil, fmt.Errorf("duplicate container %q for store type %s", c.ContainerID(), c.StoreType())
		}
		r.containers = append(r.containers, c)
	}
	return r, nil
}

// Containers returns a snapshot of every registered container.
func (r *Registry) Containers() []Container {
	result := make([]Container, len(r.containers))
	copy(result, r.containers)
	return result
}

// GetContainerTypes returns the distinct store types with at least one container.
func (r *Registry) GetContainerTypes() []StoreType {
	seen := make(map[StoreType]bool)
	result := []StoreType{}
	for _, c := range r.containers {
		if seen[c.StoreType()] {
			continue
		}
		seen[c.StoreType()] = true
		result = append(result, c.StoreType())
	}
	return result
}

// GetContainerIDs returns the distinct container ids configured for storeType.
func (r *Registry) GetContainerIDs(storeType StoreType) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, c := range r.containers {
		if c.StoreType() != storeType || seen[c.ContainerID()] {
			continue
		}
		seen[c.ContainerID()] = true
		result = append(result, c.ContainerID())
	}
	return result
}

// GetDefaultContainer returns the container of storeType with an empty id,
// falling back to the first container of that type. It returns nil when no
// container of storeType is registered.
func (r *Registry) GetDefaultContainer(storeType StoreType) Container {
	var first Container
	for _, c := range r.containers {
		if c.StoreType() != storeType {
			continue
		}
		if c.ContainerID() == "" {
			return c
		}
		if first == nil {
			first = c
		}
	}
	return first
}

// GetContainer returns the container registered for (storeType, containerID), or nil.
func (r *Registry) GetContainer(storeType StoreType, containerID string) Container {
	for _, c := range r.containers {
		if c.StoreType() == storeType && c.ContainerID() == containerID {
			return c
		}
	}
	return nil
}
