package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/crypto"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/crypto/clientcrypto"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/ledger"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/server/httpapi"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/service"
)

// app runs one subcommand against the server.
type app struct {
	api *client
	out io.Writer
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "register":
		return a.register(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "contacts":
		return a.contacts(ctx)
	case "send":
		return a.send(ctx, args)
	case "inbox":
		return a.inbox(ctx, args)
	case "group-create":
		return a.groupCreate(ctx, args)
	case "group-join":
		return a.groupJoin(ctx, args)
	case "group-send":
		return a.groupSend(ctx, args)
	case "groups":
		return a.groups(ctx)
	case "ledger":
		return a.ledger(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// session loads the saved token and attaches it to the client.
func (a *app) session() (tokenFile, error) {
	tf, err := loadToken()
	if err != nil {
		return tokenFile{}, err
	}
	a.api.token = tf.AccessToken
	return tf, nil
}

func parse(name string, args []string, setup func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	setup(fs)
	return fs.Parse(args)
}

func passwordFlag(fs *flag.FlagSet) *string {
	return fs.String("p", os.Getenv("CHATCTL_PASSWORD"), "vault password (default $CHATCTL_PASSWORD)")
}

func (a *app) register(ctx context.Context, args []string) error {
	var u, p string
	if err := parse("register", args, func(fs *flag.FlagSet) {
		fs.StringVar(&u, "u", "", "username")
		fs.StringVar(&p, "p", "", "password")
	}); err != nil {
		return err
	}
	if u == "" || p == "" {
		return errors.New("need -u and -p")
	}

	var reg httpapi.RegisterResponse
	if err := a.api.do(ctx, http.MethodPost, "/auth/register", map[string]string{"username": u, "password": p}, &reg); err != nil {
		return err
	}
	// the private keys are only ever shown once
	v := clientcrypto.Vault{
		UserID:        reg.UserID.String(),
		Username:      u,
		EncryptionKey: reg.EncryptionKey,
		SigningKey:    reg.SigningKey,
	}
	if err := saveVault(p, v); err != nil {
		return fmt.Errorf("store keys: %w", err)
	}
	fmt.Fprintf(a.out, "registered %s, keys sealed in %s\n", reg.UserID, vaultPath())
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	var u, p string
	if err := parse("login", args, func(fs *flag.FlagSet) {
		fs.StringVar(&u, "u", "", "username")
		fs.StringVar(&p, "p", "", "password")
	}); err != nil {
		return err
	}
	if u == "" || p == "" {
		return errors.New("need -u and -p")
	}

	var resp httpapi.LoginResponse
	if err := a.api.do(ctx, http.MethodPost, "/auth/login", map[string]string{"username": u, "password": p}, &resp); err != nil {
		return err
	}
	exp := resp.ExpiresAt
	if exp.IsZero() {
		exp = time.Now().Add(15 * time.Minute)
	}
	tf := tokenFile{AccessToken: resp.Token, ExpiresAt: exp, UserID: resp.UserID.String(), Username: resp.Username}
	if err := saveToken(tf); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

func (a *app) fetchInbox(ctx context.Context) (service.Inbox, error) {
	var in service.Inbox
	err := a.api.do(ctx, http.MethodGet, "/chat/single", nil, &in)
	return in, err
}

func (a *app) contacts(ctx context.Context) error {
	if _, err := a.session(); err != nil {
		return err
	}
	in, err := a.fetchInbox(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tID")
	for _, c := range in.Contacts {
		fmt.Fprintf(tw, "%s\t%s\n", c.Username, c.ID)
	}
	return tw.Flush()
}

// findContact matches a username or a user id.
func findContact(contacts []model.Contact, who string) (model.Contact, error) {
	for _, c := range contacts {
		if c.Username == who || c.ID.String() == who {
			return c, nil
		}
	}
	return model.Contact{}, fmt.Errorf("unknown contact %q", who)
}

func (a *app) send(ctx context.Context, args []string) error {
	var to, msg string
	var p *string
	if err := parse("send", args, func(fs *flag.FlagSet) {
		fs.StringVar(&to, "to", "", "recipient username or id")
		fs.StringVar(&msg, "m", "", "message text")
		p = passwordFlag(fs)
	}); err != nil {
		return err
	}
	if to == "" || msg == "" {
		return errors.New("need -to and -m")
	}
	if _, err := a.session(); err != nil {
		return err
	}
	v, err := loadVault(*p)
	if err != nil {
		return err
	}
	in, err := a.fetchInbox(ctx)
	if err != nil {
		return err
	}
	peer, err := findContact(in.Contacts, to)
	if err != nil {
		return err
	}

	env, err := pkgcrypto.Seal(msg, v.EncryptionKey.PublicKey, peer.PublicKey)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	sig, err := pkgcrypto.SignBase64([]byte(env.Ciphertext), v.SigningKey.PrivateKey)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	req := service.SendDirect{
		Message:   env.Ciphertext,
		OriginKey: env.SenderKey,
		TargetKey: env.RecipientKey,
		Signature: sig,
	}
	var resp struct {
		ID          uuid.UUID `json:"id"`
		LedgerIndex *int64    `json:"ledgerIndex"`
	}
	if err := a.api.do(ctx, http.MethodPost, "/chat/single/"+peer.ID.String(), req, &resp); err != nil {
		return err
	}
	if resp.LedgerIndex != nil {
		fmt.Fprintf(a.out, "sent %s (ledger block %d)\n", resp.ID, *resp.LedgerIndex)
	} else {
		fmt.Fprintf(a.out, "sent %s (not ledgered yet)\n", resp.ID)
	}
	return nil
}

func (a *app) inbox(ctx context.Context, args []string) error {
	var with string
	var p *string
	if err := parse("inbox", args, func(fs *flag.FlagSet) {
		fs.StringVar(&with, "with", "", "only the conversation with this username")
		p = passwordFlag(fs)
	}); err != nil {
		return err
	}
	tf, err := a.session()
	if err != nil {
		return err
	}
	v, err := loadVault(*p)
	if err != nil {
		return err
	}
	in, err := a.fetchInbox(ctx)
	if err != nil {
		return err
	}

	names := map[uuid.UUID]string{}
	for _, c := range in.Contacts {
		names[c.ID] = c.Username
	}
	if id, err := uuid.FromString(tf.UserID); err == nil {
		names[id] = "me"
	}
	name := func(id uuid.UUID) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id.String()
	}

	for _, m := range in.Messages {
		from, to := name(m.OriginUserID), name(m.TargetUserID)
		if with != "" && from != with && to != with {
			continue
		}
		text, ok := pkgcrypto.OpenOrRaw(m.Message, m.Key, v.EncryptionKey.PrivateKey)
		var marks []string
		if !ok {
			marks = append(marks, "undecryptable")
		}
		if !m.IsValid {
			marks = append(marks, "unverified")
		}
		if !m.Ledgered {
			marks = append(marks, "unledgered")
		}
		line := fmt.Sprintf("%s %s -> %s: %s", m.CreatedAt.Local().Format(time.DateTime), from, to, text)
		if len(marks) > 0 {
			line += " [" + strings.Join(marks, ", ") + "]"
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func (a *app) groupCreate(ctx context.Context, args []string) error {
	var name string
	if err := parse("group-create", args, func(fs *flag.FlagSet) {
		fs.StringVar(&name, "name", "", "group name")
	}); err != nil {
		return err
	}
	if name == "" {
		return errors.New("need -name")
	}
	if _, err := a.session(); err != nil {
		return err
	}
	key, err := pkgcrypto.NewGroupKey()
	if err != nil {
		return err
	}
	var resp struct {
		Group service.GroupView `json:"group"`
	}
	if err := a.api.do(ctx, http.MethodPost, "/chat/group", map[string]string{"name": name, "key": key}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created group %s (%s)\n", resp.Group.Name, resp.Group.ID)
	return nil
}

func (a *app) groupJoin(ctx context.Context, args []string) error {
	var id string
	if err := parse("group-join", args, func(fs *flag.FlagSet) {
		fs.StringVar(&id, "id", "", "group id")
	}); err != nil {
		return err
	}
	if id == "" {
		return errors.New("need -id")
	}
	if _, err := a.session(); err != nil {
		return err
	}
	var resp struct {
		Group service.GroupView `json:"group"`
	}
	if err := a.api.do(ctx, http.MethodPost, "/chat/group/join", map[string]string{"groupId": id}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "joined group %s\n", resp.Group.Name)
	return nil
}

func (a *app) fetchGroups(ctx context.Context) (service.GroupOverview, error) {
	var ov service.GroupOverview
	err := a.api.do(ctx, http.MethodGet, "/chat/group", nil, &ov)
	return ov, err
}

func (a *app) groupSend(ctx context.Context, args []string) error {
	var group, msg string
	var p *string
	if err := parse("group-send", args, func(fs *flag.FlagSet) {
		fs.StringVar(&group, "g", "", "group name or id")
		fs.StringVar(&msg, "m", "", "message text")
		p = passwordFlag(fs)
	}); err != nil {
		return err
	}
	if group == "" || msg == "" {
		return errors.New("need -g and -m")
	}
	if _, err := a.session(); err != nil {
		return err
	}
	v, err := loadVault(*p)
	if err != nil {
		return err
	}
	ov, err := a.fetchGroups(ctx)
	if err != nil {
		return err
	}
	var g *service.GroupView
	for i := range ov.Groups {
		if ov.Groups[i].Name == group || ov.Groups[i].ID.String() == group {
			g = &ov.Groups[i]
			break
		}
	}
	if g == nil {
		return fmt.Errorf("not a member of group %q", group)
	}

	ct, err := pkgcrypto.SealGroup(msg, g.Key)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	sig, err := pkgcrypto.SignBase64([]byte(ct), v.SigningKey.PrivateKey)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	if err := a.api.do(ctx, http.MethodPost, "/chat/group/"+g.ID.String(), service.SendGroup{Message: ct, Signature: sig}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sent %s to %s\n", resp.ID, g.Name)
	return nil
}

func (a *app) groups(ctx context.Context) error {
	if _, err := a.session(); err != nil {
		return err
	}
	ov, err := a.fetchGroups(ctx)
	if err != nil {
		return err
	}
	byID := map[uuid.UUID]service.GroupView{}
	for _, g := range ov.Groups {
		byID[g.ID] = g
		fmt.Fprintf(a.out, "# %s (%s)\n", g.Name, g.ID)
	}
	for _, m := range ov.Messages {
		g := byID[m.GroupID]
		text, err := pkgcrypto.OpenGroup(m.Message, g.Key)
		if err != nil {
			text = m.Message + " [undecryptable]"
		}
		if !m.IsValid {
			text += " [unverified]"
		}
		fmt.Fprintf(a.out, "%s %s/%s: %s\n", m.CreatedAt.Local().Format(time.DateTime), g.Name, m.UserID, text)
	}
	return nil
}

// ledger downloads the chain and validates it locally instead of trusting
// the server's verdict.
func (a *app) ledger(ctx context.Context) error {
	var view service.ChainView
	if err := a.api.do(ctx, http.MethodGet, "/transactions", nil, &view); err != nil {
		return err
	}
	local := ledger.ValidateBlocks(view.Chain)
	fmt.Fprintf(a.out, "blocks: %d\n", len(view.Chain))
	fmt.Fprintf(a.out, "server: %s\n", verdict(view.Validation))
	fmt.Fprintf(a.out, "local:  %s\n", verdict(local))
	if !local.OK {
		return fmt.Errorf("chain tampered at block %d", *local.FirstTamperedIndex)
	}
	if !view.Validation.OK {
		return errors.New("server reports a tampered chain")
	}
	return nil
}

func verdict(v ledger.Validation) string {
	if v.OK {
		return "valid"
	}
	if v.FirstTamperedIndex != nil {
		return fmt.Sprintf("tampered at block %d", *v.FirstTamperedIndex)
	}
	return "tampered"
}
