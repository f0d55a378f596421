package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/session"
)

const usage = `usage: storefront <command> [arguments]

commands:
  login -email EMAIL [-password PASSWORD]
  signup -email EMAIL -first NAME -last NAME -phone PHONE [-password PASSWORD]
  logout
  whoami
  cart
  add PRODUCT_ID [QUANTITY]
  qty ITEM_ID QUANTITY
  rm ITEM_ID
  coupon CODE
  clear
  checkout FORM.json
  pending
  resolve ORDER_ID
`

// Ledger is the payment ledger as the CLI sees it.
type Ledger interface {
	checkout.PaymentLedger
	PendingPayments(ctx context.Context) ([]domain.PendingPayment, error)
	PaymentByOrder(ctx context.Context, orderID int64) (*domain.PendingPayment, error)
	ResolvePayment(ctx context.Context, orderID int64) error
}

// checkoutForm is the JSON document read by the checkout command.
type checkoutForm struct {
	Shipping       domain.Address          `json:"shipping"`
	Billing        *domain.Address         `json:"billing,omitempty"`
	SameAsShipping *bool                   `json:"same_as_shipping,omitempty"`
	Payment        domain.PaymentSelection `json:"payment"`
}

type app struct {
	session  *session.Manager
	cart     *cart.Synchronizer
	checkout *checkout.Orchestrator
	ledger   Ledger
	in       io.Reader
	out      io.Writer
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return errors.New("no command given")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "signup":
		return a.signup(ctx, rest)
	case "logout":
		a.session.Logout(ctx)
		fmt.Fprintln(a.out, "Signed out.")
		return nil
	case "whoami":
		return a.whoami()
	case "cart":
		return a.showCart(ctx)
	case "add":
		return a.add(ctx, rest)
	case "qty":
		return a.setQuantity(ctx, rest)
	case "rm":
		return a.remove(ctx, rest)
	case "coupon":
		return a.coupon(ctx, rest)
	case "clear":
		if err := a.cart.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Cart cleared.")
		return nil
	case "checkout":
		return a.placeOrder(ctx, rest)
	case "pending":
		return a.pending(ctx)
	case "resolve":
		return a.resolve(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	}
	fmt.Fprint(a.out, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password, read from stdin when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("login: -email is required")
	}

	pw, err := a.password(*password)
	if err != nil {
		return err
	}
	user, err := a.session.Login(ctx, domain.Credentials{Email: *email, Password: pw})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s).\n", user.Email, a.session.Role())
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	fs.SetOutput(a.out)
	var reg domain.Registration
	fs.StringVar(&reg.Email, "email", "", "account email")
	fs.StringVar(&reg.FirstName, "first", "", "first name")
	fs.StringVar(&reg.LastName, "last", "", "last name")
	fs.StringVar(&reg.PhoneNumber, "phone", "", "phone number")
	password := fs.String("password", "", "account password, read from stdin when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if reg.Email == "" {
		return errors.New("signup: -email is required")
	}

	pw, err := a.password(*password)
	if err != nil {
		return err
	}
	reg.Password = pw

	user, err := a.session.Signup(ctx, reg)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Account created for %s. Sign in with: storefront login -email %s\n", user.Email, user.Email)
	return nil
}

func (a *app) password(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}

func (a *app) whoami() error {
	s := a.session.Session()
	if !s.IsAuthenticated() {
		fmt.Fprintln(a.out, "Not signed in.")
		return nil
	}
	if s.User == nil {
		fmt.Fprintf(a.out, "Signed in (%s).\n", s.Role)
		return nil
	}
	fmt.Fprintf(a.out, "%s %s <%s> role=%s\n", s.User.FirstName, s.User.LastName, s.User.Email, s.Role)
	return nil
}

func (a *app) showCart(ctx context.Context) error {
	if err := a.cart.Refresh(ctx); err != nil {
		return err
	}
	printCart(a.out, a.cart.Snapshot())
	return nil
}

func (a *app) add(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: add PRODUCT_ID [QUANTITY]")
	}
	productID, err := parseID(args[0])
	if err != nil {
		return err
	}
	qty := 1
	if len(args) == 2 {
		if qty, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("quantity %q: %w", args[1], err)
		}
	}
	if err := a.cart.AddItem(ctx, productID, qty); err != nil {
		return err
	}
	printCart(a.out, a.cart.Snapshot())
	return nil
}

func (a *app) setQuantity(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: qty ITEM_ID QUANTITY")
	}
	itemID, err := parseID(args[0])
	if err != nil {
		return err
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quantity %q: %w", args[1], err)
	}
	if err := a.cart.SetQuantity(ctx, itemID, qty); err != nil {
		return err
	}
	printCart(a.out, a.cart.Snapshot())
	return nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm ITEM_ID")
	}
	itemID, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := a.cart.RemoveItem(ctx, itemID); err != nil {
		return err
	}
	printCart(a.out, a.cart.Snapshot())
	return nil
}

func (a *app) coupon(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: coupon CODE")
	}
	if err := a.cart.ApplyCoupon(ctx, args[0]); err != nil {
		return err
	}
	printCart(a.out, a.cart.Snapshot())
	return nil
}

func (a *app) placeOrder(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: checkout FORM.json")
	}
	form, err := readForm(args[0])
	if err != nil {
		return err
	}
	if err := a.cart.Refresh(ctx); err != nil {
		return err
	}

	if a.checkout.Step().IsTerminal() {
		if err := a.checkout.Restart(); err != nil {
			return err
		}
	}
	if err := a.fillForm(form); err != nil {
		return err
	}

	for a.checkout.Step() != checkout.StepPayment {
		if _, err := a.checkout.Next(); err != nil {
			return err
		}
	}
	printSummary(a.out, a.checkout.Summary())

	order, err := a.checkout.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Order %s placed (id %d), payment: %s\n", order.OrderNumber, order.ID, order.PaymentStatus)
	for _, w := range a.checkout.Warnings() {
		fmt.Fprintf(a.out, "warning: %s\n", w)
	}
	return nil
}

func (a *app) fillForm(form checkoutForm) error {
	if err := a.checkout.SetShipping(form.Shipping); err != nil {
		return err
	}
	if form.Billing != nil {
		if err := a.checkout.SetBilling(*form.Billing); err != nil {
			return err
		}
	}
	if err := a.checkout.SetSameAsShipping(form.SameAsShipping == nil || *form.SameAsShipping); err != nil {
		return err
	}
	return a.checkout.SetPayment(form.Payment)
}

func readForm(path string) (checkoutForm, error) {
	var form checkoutForm
	f, err := os.Open(path)
	if err != nil {
		return form, fmt.Errorf("open checkout form: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&form); err != nil {
		return form, fmt.Errorf("decode checkout form: %w", err)
	}
	return form, nil
}

func (a *app) pending(ctx context.Context) error {
	payments, err := a.ledger.PendingPayments(ctx)
	if err != nil {
		return err
	}
	if len(payments) == 0 {
		fmt.Fprintln(a.out, "No orders awaiting payment.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tNUMBER\tAMOUNT\tPHONE\tSINCE\tREASON")
	for _, p := range payments {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			p.OrderID, p.OrderNumber, p.Amount, p.Phone, p.CreatedAt.Format("2006-01-02 15:04"), p.Reason)
	}
	return w.Flush()
}

func (a *app) resolve(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: resolve ORDER_ID")
	}
	orderID, err := parseID(args[0])
	if err != nil {
		return err
	}
	p, err := a.ledger.PaymentByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if p.ResolvedAt != nil {
		fmt.Fprintf(a.out, "Order %s was already marked as paid on %s.\n", p.OrderNumber, p.ResolvedAt.Format("2006-01-02 15:04"))
		return nil
	}

	if err := a.ledger.ResolvePayment(ctx, orderID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Order %s (id %d) marked as paid, %d received.\n", p.OrderNumber, p.OrderID, p.Amount)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printCart(out io.Writer, c domain.Cart) {
	if c.IsEmpty() {
		fmt.Fprintln(out, "Your cart is empty.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tPRODUCT\tNAME\tQTY\tPRICE")
	for _, item := range c.Items {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%.2f\n", item.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice)
	}
	fmt.Fprintf(w, "\t\tItems\t%d\t\n", c.ItemCount())
	fmt.Fprintf(w, "\t\tSubtotal\t\t%.2f\n", c.Subtotal)
	if c.CouponCode != "" || c.Discount != 0 {
		fmt.Fprintf(w, "\t\tDiscount %s\t\t-%.2f\n", c.CouponCode, c.Discount)
	}
	fmt.Fprintf(w, "\t\tTotal\t\t%.2f\n", c.Total)
	w.Flush()
}

func printSummary(out io.Writer, s checkout.Summary) {
	fmt.Fprintf(out, "Shipping to %s, %s, %s\n", s.Shipping.FullName, s.Shipping.Line1, s.Shipping.City)
	fmt.Fprintf(out, "Paying by %s\n", s.Payment.Method)
	fmt.Fprintf(out, "%d items, total %.2f\n", s.ItemCount, s.Total)
}

// printValidation lists field errors in a stable order.
func printValidation(out io.Writer, verr *domain.ValidationError) {
	fields := make([]string, 0, len(verr.Fields))
	for f := range verr.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(out, "  %s: %s\n", f, verr.Fields[f])
	}
}
