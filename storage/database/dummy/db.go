package dummydb

import (
	"sync"

	"github.com/trezcool/darasa/core/messaging"
	"github.com/trezcool/darasa/core/user"
)

type (
	DB struct {
		user     *userTable
		message  *messageTable
		template *templateTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	messageTable struct {
		sync.RWMutex
		table map[string]*messaging.Message

		// failAfter simulates a persistence failure after N successful
		// inserts within one batch; -1 disables it.
		failAfter int
	}

	templateTable struct {
		sync.RWMutex
		table map[string]*messaging.Template
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:     &userTable{table: make(map[string]*user.User)},
		message:  &messageTable{table: make(map[string]*messaging.Message), failAfter: -1},
		template: &templateTable{table: make(map[string]*messaging.Template)},
	}
	return db, nil
}

// FailMessageCreateAfter makes the next message batch insert fail after n rows.
// Pass -1 to disable. Test hook only.
func (db *DB) FailMessageCreateAfter(n int) {
	db.message.Lock()
	db.message.failAfter = n
	db.message.Unlock()
}
