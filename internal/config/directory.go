package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/taskhub/internal/errors"
)

// User is a user profile. Arbitrary fields are kept so template
// resolution can reference any of them via USER.<field>.
type User = map[string]any

// Group is a named set of user ids.
type Group struct {
	ID    string   `yaml:"id" json:"id"`
	Name  string   `yaml:"name" json:"name"`
	Users []string `yaml:"users" json:"users"`
}

// Directory resolves users, groups, and task permissions. It is built
// once at load time and read-only afterwards.
type Directory struct {
	users  map[string]User
	groups map[string]Group
}

// NewDirectory indexes the given users and groups. Every user also gets
// a personal group under their own id, and each user profile gains a
// "groups" list with the groups containing them.
func NewDirectory(users []User, groups []Group) *Directory {
	d := &Directory{
		users:  make(map[string]User, len(users)),
		groups: make(map[string]Group, len(groups)),
	}
	for _, u := range users {
		id, _ := u["id"].(string)
		if id == "" {
			continue
		}
		d.users[id] = u
	}
	for _, g := range groups {
		d.groups[g.ID] = g
	}
	// Personal group per user.
	for id, u := range d.users {
		if _, exists := d.groups[id]; !exists {
			name, _ := u["name"].(string)
			d.groups[id] = Group{ID: id, Name: name, Users: []string{id}}
		}
	}
	// Group membership view on the user profile.
	for gid, g := range d.groups {
		for _, uid := range g.Users {
			u, ok := d.users[uid]
			if !ok {
				continue
			}
			memberships, _ := u["groups"].([]string)
			u["groups"] = append(memberships, gid)
		}
	}
	return d
}

// User returns the profile for id.
func (d *Directory) User(id string) (User, bool) {
	u, ok := d.users[id]
	return u, ok
}

// Group returns the group for id.
func (d *Directory) Group(id string) (Group, bool) {
	g, ok := d.groups[id]
	return g, ok
}

// UserInGroup reports whether userID belongs to groupID.
func (d *Directory) UserInGroup(groupID, userID string) (bool, error) {
	g, ok := d.groups[groupID]
	if !ok {
		return false, errors.Newf(errors.ErrCodeGroupNotFound, "no group %q", groupID)
	}
	for _, uid := range g.Users {
		if uid == userID {
			return true, nil
		}
	}
	return false, nil
}

// Authorized reports whether userID may start a task restricted to the
// given permission groups. A task without permissions is open to all.
func (d *Directory) Authorized(permissions []string, userID string) bool {
	if len(permissions) == 0 {
		return true
	}
	for _, gid := range permissions {
		g, ok := d.groups[gid]
		if !ok {
			continue
		}
		for _, uid := range g.Users {
			if uid == userID {
				return true
			}
		}
	}
	return false
}

// Language returns the user's configured language, defaulting to EN.
func (d *Directory) Language(userID string) string {
	if u, ok := d.users[userID]; ok {
		if lang, ok := u["language"].(string); ok && lang != "" {
			return lang
		}
	}
	return "EN"
}

// directoryFile is the on-disk shape of the users/groups files.
type directoryFile struct {
	Users  []User  `yaml:"users"`
	Groups []Group `yaml:"groups"`
}

// LoadDirectory reads users and groups from YAML files. Either path may
// be empty; the hub then runs with an empty directory (every task open,
// collaborate unusable).
func LoadDirectory(usersPath, groupsPath string) (*Directory, error) {
	var users []User
	var groups []Group

	if usersPath != "" {
		var f directoryFile
		if err := readYAML(usersPath, &f); err != nil {
			return nil, err
		}
		users = f.Users
		groups = append(groups, f.Groups...)
	}
	if groupsPath != "" && groupsPath != usersPath {
		var f directoryFile
		if err := readYAML(groupsPath, &f); err != nil {
			return nil, err
		}
		users = append(users, f.Users...)
		groups = append(groups, f.Groups...)
	}
	return NewDirectory(users, groups), nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeTemplateInvalid, "read "+path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrap(errors.ErrCodeTemplateInvalid, "unmarshal "+path, err)
	}
	return nil
}
