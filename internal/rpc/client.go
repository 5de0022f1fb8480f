package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dmitrijs2005/prwatch/internal/auth"
	"github.com/dmitrijs2005/prwatch/internal/background"
	"github.com/dmitrijs2005/prwatch/internal/models"
)

// Client talks to a daemon over the bridge. Errors that match a daemon
// sentinel are returned as that sentinel.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects lazily to address; the first call establishes the
// connection.
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithUnaryInterceptor(errorInterceptor),
	}
	conn, err := grpc.NewClient(address, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends cmd and decodes the result into out, which may be nil.
func (c *Client) Call(ctx context.Context, cmd background.Command, out any) error {
	env, err := background.Encode(cmd)
	if err != nil {
		return err
	}
	var reply Reply
	if err := c.conn.Invoke(ctx, dispatchMethod, env, &reply); err != nil {
		return err
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", cmd.Type(), err)
	}
	return nil
}

// Subscribe streams broadcasts until ctx is done or the daemon goes away,
// then closes the channel.
func (c *Client) Subscribe(ctx context.Context) (<-chan background.Event, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(&subscribeRequest{}); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}

	out := make(chan background.Event)
	go func() {
		defer close(out)
		for {
			var ev background.Event
			if err := stream.RecvMsg(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) ack(ctx context.Context, cmd background.Command) (bool, error) {
	var a background.Ack
	if err := c.Call(ctx, cmd, &a); err != nil {
		return false, err
	}
	return a.OK, nil
}

// CheckPRs asks for a refresh and reports whether it ran and succeeded.
func (c *Client) CheckPRs(ctx context.Context, manual bool, customQuery string) (bool, error) {
	return c.ack(ctx, background.CheckPRs{Manual: manual, CustomQuery: customQuery})
}

func (c *Client) SetPassword(ctx context.Context, password string, remember bool) error {
	_, err := c.ack(ctx, background.SetPassword{Password: password, Remember: remember})
	return err
}

// RememberedPassword returns the password remembered by the daemon, if any.
func (c *Client) RememberedPassword(ctx context.Context) (string, bool, error) {
	var r background.RememberedPassword
	if err := c.Call(ctx, background.GetRememberedPassword{}, &r); err != nil {
		return "", false, err
	}
	return r.Password, r.HasRememberedPassword, nil
}

func (c *Client) ClearSession(ctx context.Context) error {
	_, err := c.ack(ctx, background.ClearSession{})
	return err
}

func (c *Client) PopupOpened(ctx context.Context) error {
	_, err := c.ack(ctx, background.PopupOpened{})
	return err
}

func (c *Client) AuthState(ctx context.Context) (auth.State, error) {
	var r background.AuthState
	if err := c.Call(ctx, background.GetAuthState{}, &r); err != nil {
		return "", err
	}
	return r.State, nil
}

func (c *Client) SubmitToken(ctx context.Context, token string) error {
	_, err := c.ack(ctx, background.SubmitToken{Token: token})
	return err
}

func (c *Client) SetupPassword(ctx context.Context, password, confirm string, remember bool) error {
	_, err := c.ack(ctx, background.SetupPassword{Password: password, Confirm: confirm, Remember: remember})
	return err
}

func (c *Client) Unlock(ctx context.Context, password string, remember bool) error {
	_, err := c.ack(ctx, background.Unlock{Password: password, Remember: remember})
	return err
}

func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string, remember bool) error {
	_, err := c.ack(ctx, background.ChangePassword{
		OldPassword: oldPassword,
		NewPassword: newPassword,
		Confirm:     confirm,
		Remember:    remember,
	})
	return err
}

func (c *Client) SignOut(ctx context.Context) error {
	_, err := c.ack(ctx, background.SignOut{})
	return err
}

func (c *Client) Reset(ctx context.Context) error {
	_, err := c.ack(ctx, background.Reset{})
	return err
}

func (c *Client) Data(ctx context.Context, showHidden bool) (background.Data, error) {
	var d background.Data
	err := c.Call(ctx, background.GetData{ShowHidden: showHidden}, &d)
	return d, err
}

func (c *Client) UpdatePreferences(ctx context.Context, patch models.PreferencesPatch, firstRunNotify *bool) error {
	_, err := c.ack(ctx, background.UpdatePreferences{Preferences: patch, FirstRunNotify: firstRunNotify})
	return err
}
