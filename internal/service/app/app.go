package app

import (
	"context"
	"fmt"
	"micropay/internal/model"
	"micropay/internal/protocol/payer"
	"micropay/internal/units"
	"micropay/internal/utils/log"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/pkg/errors"
	"github.com/rivo/tview"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type (
	// App is the interactive payer. Each line typed is either a cumulative
	// amount in ether or an increment written as +amount.
	App struct {
		app   *tview.Application
		feed  *tview.TextView
		input *tview.InputField

		session   *payer.Session
		transport *HttpTransport

		mu    sync.Mutex
		total decimal.Decimal
	}
)

func NewApp(session *payer.Session, transport *HttpTransport) *App {
	return &App{
		app:       tview.NewApplication(),
		session:   session,
		transport: transport,
		total:     decimal.Zero,
	}
}

// NextTotal resolves an input line against the cumulative total sent so far.
func NextTotal(total decimal.Decimal, line string) (decimal.Decimal, error) {
	line = strings.TrimSpace(line)
	increment := strings.HasPrefix(line, "+")
	amount, err := decimal.NewFromString(strings.TrimPrefix(line, "+"))
	if err != nil {
		return total, errors.Wrapf(units.ErrInvalidAmount, "%q", line)
	}
	if amount.IsNegative() {
		return total, errors.Wrapf(units.ErrInvalidAmount, "%q is negative", line)
	}
	if increment {
		return total.Add(amount), nil
	}
	return amount, nil
}

// Run blocks until the user quits.
func (c *App) Run(ctx context.Context) error {
	ch := c.session.Channel()
	if ch == nil {
		return payer.ErrNotOpen
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.renderUI(ch)

	events, err := c.transport.SubscribeEvents(ctx, ch.ID)
	if err != nil {
		log.Warn("payee events unavailable", zap.Error(err))
	} else {
		go c.listenOnEvents(events)
	}

	return c.app.Run()
}

func (c *App) renderUI(ch *payer.Channel) {
	c.feed = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.feed.SetBorder(true).SetTitle(fmt.Sprintf(" Channel %s to %s ", ch.ID.Hex()[:10], ch.Receiver.Hex()))

	c.input = tview.NewInputField().
		SetLabel("Pay (ETH, total or +increment): ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" Payment ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(line string) {
			if err := c.Pay(context.Background(), line); err != nil {
				c.print("[red]%s[-]", err)
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.feed, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	c.app.SetRoot(layout, true).SetFocus(c.input)
}

// Pay sends the payment described by line and records the new total once
// the payee accepted it.
func (c *App) Pay(ctx context.Context, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := NextTotal(c.total, line)
	if err != nil {
		return err
	}
	if err := c.session.SendPayment(ctx, next.String()); err != nil {
		return err
	}
	c.total = next
	c.print("[yellow]paid:[-] %s ETH in total", next)
	return nil
}

func (c *App) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *App) listenOnEvents(events <-chan model.Event) {
	for ev := range events {
		switch ev.Type {
		case model.EventPaymentRejected:
			c.print("[red]payee:[-] rejected, %s", ev.Reason)
		case model.EventChannelClaimed:
			if ev.Receipt == nil {
				continue
			}
			c.print("[green]payee:[-] channel claimed in %s", ev.Receipt.TxHash.Hex())
		default:
			c.print("[green]payee:[-] %s", ev.Type)
		}
	}
}

func (c *App) print(format string, args ...any) {
	if c.feed == nil {
		return
	}
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.feed, format+"\n", args...)
		c.feed.ScrollToEnd()
	})
}
