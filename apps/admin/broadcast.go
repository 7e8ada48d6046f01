package main

import (
	"context"
	"fmt"

	"github.com/trezcool/darasa/core/messaging"
	"github.com/trezcool/darasa/core/user"
)

var broadcastRoles = map[string]string{
	"student": user.RoleStudent,
	"mentor":  user.RoleMentor,
	"admin":   user.RoleAdmin,
}

// broadcast fans a system message out to the selected audience.
func (cli *commandLine) broadcast(subject, content, priority string, all bool, sector, role string) error {
	var aud messaging.Audience
	switch {
	case all:
		aud = messaging.AllAudience()
	case sector != "":
		aud = messaging.SectorAudience(sector)
	case role != "":
		r, ok := broadcastRoles[role]
		if !ok {
			return fmt.Errorf("%q: no such role", role)
		}
		aud = messaging.RoleAudience(r)
	default:
		return errHelp
	}

	receipt, err := cli.msgSvc.SendSystem(context.Background(), messaging.NewMessage{
		Subject:  subject,
		Content:  content,
		Priority: priority,
		Audience: aud,
	})
	if err != nil {
		return err
	}
	fmt.Printf("broadcast %s delivered to %d recipient(s)\n", receipt.BroadcastID, receipt.RecipientCount)
	return nil
}
