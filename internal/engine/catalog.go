package engine

import "github.com/samber/lo"

// GameInfo describes a game offered by the server.
type GameInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type entry struct {
	info GameInfo
	new  func() Rules
}

// Catalog is the static, ordered list of games the server can host.
type Catalog struct {
	entries []entry
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

// DefaultCatalog returns the games shipped with the server.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register("p1wins", "player 1 wins", NewP1Wins)
	c.Register("tictactoe", "Tic-tac-toe", NewTicTacToe)
	return c
}

// Register adds a game. Registering an existing id replaces its factory.
func (c *Catalog) Register(id, description string, factory func() Rules) {
	info := GameInfo{ID: id, Description: description}
	if _, i, ok := lo.FindIndexOf(c.entries, func(e entry) bool { return e.info.ID == id }); ok {
		c.entries[i] = entry{info: info, new: factory}
		return
	}
	c.entries = append(c.entries, entry{info: info, new: factory})
}

// New returns fresh rules for the game, or false if the id is unknown.
func (c *Catalog) New(id string) (Rules, bool) {
	e, ok := lo.Find(c.entries, func(e entry) bool { return e.info.ID == id })
	if !ok {
		return nil, false
	}
	return e.new(), true
}

// List returns the catalog in registration order.
func (c *Catalog) List() []GameInfo {
	return lo.Map(c.entries, func(e entry, _ int) GameInfo { return e.info })
}
