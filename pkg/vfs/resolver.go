package vfs

import "strings"

// Resolver walks absolute paths through a DirectoryTable.
//
// Symlinks do not exist in this filesystem, so resolution is a plain walk:
// "." stays put, ".." moves to the parent (the root's parent is the root) and
// empty components are skipped.
type Resolver struct {
	dirs *DirectoryTable
}

// NewResolver creates a resolver over dirs.
func NewResolver(dirs *DirectoryTable) *Resolver {
	return &Resolver{dirs: dirs}
}

// Resolve returns the inode named by path.
func (r *Resolver) Resolve(path string) (InodeID, error) {
	r.dirs.mu.RLock()
	defer r.dirs.mu.RUnlock()
	return r.resolveLocked(path)
}

// ResolveParent returns the directory that would contain path together with
// the final component. The final component is not required to exist.
func (r *Resolver) ResolveParent(path string) (InodeID, string, error) {
	if !strings.HasPrefix(path, "/") {
		return 0, "", newError(ErrInvalidArgument, "path is not absolute", path)
	}

	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return 0, "", newError(ErrInvalidArgument, "path has no final component", path)
	}

	name := trimmed[idx+1:]
	if name == "" || name == "." || name == ".." {
		return 0, "", newError(ErrInvalidArgument, "path has no final component", path)
	}

	r.dirs.mu.RLock()
	defer r.dirs.mu.RUnlock()

	parent, err := r.resolveLocked(trimmed[:idx+1])
	if err != nil {
		return 0, "", err
	}
	if _, ok := r.dirs.dirs[parent]; !ok {
		return 0, "", newError(ErrNotDirectory, "not a directory", trimmed[:idx])
	}
	return parent, name, nil
}

func (r *Resolver) resolveLocked(path string) (InodeID, error) {
	if !strings.HasPrefix(path, "/") {
		return 0, newError(ErrInvalidArgument, "path is not absolute", path)
	}

	cur := RootInodeID
	for _, component := range strings.Split(path, "/") {
		switch component {
		case "":
			continue
		case ".", "..":
			if _, ok := r.dirs.dirs[cur]; !ok {
				return 0, newError(ErrNotDirectory, "not a directory", path)
			}
			if component == "." {
				continue
			}
			parent, err := r.dirs.parentLocked(cur)
			if err != nil {
				return 0, err
			}
			cur = parent
			continue
		}

		e, err := r.dirs.lookupLocked(cur, component)
		if err != nil {
			if IsCode(err, ErrNotFound) || IsCode(err, ErrNotDirectory) {
				// Report the path rather than the last component.
				err.(*Error).Path = path
			}
			return 0, err
		}
		cur = e.Ino
	}
	return cur, nil
}
