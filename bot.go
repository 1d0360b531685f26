package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/player"
	"github.com/leeineian/hibiki/sys"
)

// Bot wires the Discord client to the player orchestrator.
type Bot struct {
	client       bot.Client
	orchestrator *player.Orchestrator
	connector    *voiceConnector
	unsubscribe  func()
}

func newBot(ctx context.Context, cfg *sys.Config) (*Bot, error) {
	b := &Bot{}
	b.connector = &voiceConnector{channels: make(map[snowflake.ID]snowflake.ID)}

	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("/play"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
			}),
		),
		bot.WithEventListenerFunc(b.onApplicationCommandInteraction),
		bot.WithEventListenerFunc(b.onAutocompleteInteraction),
		bot.WithEventListenerFunc(b.onVoiceStateUpdate),
		bot.WithEventListenerFunc(b.onReady),
	)
	if err != nil {
		return nil, err
	}
	b.client = *client
	b.connector.client = b.client

	b.orchestrator = player.New(player.Options{
		Connector:      b.connector,
		IdleTimeout:    cfg.IdleTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		DefaultVolume:  cfg.DefaultVolume,
		Deafened:       true,
	})
	b.unsubscribe = b.orchestrator.Subscribe(b.onPlayerEvent)

	return b, nil
}

func (b *Bot) open(ctx context.Context) error {
	return b.client.OpenGateway(ctx)
}

func (b *Bot) close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	for _, s := range b.orchestrator.Sessions() {
		_ = s.Destroy()
	}
	b.client.Close(context.Background())
}

func (b *Bot) onReady(event *events.Ready) {
	sys.LogInfo(sys.MsgBotReady, sys.GetProjectName(), event.User.ID.String(), os.Getpid())
}

// onPlayerEvent mirrors the orchestrator's event stream into logs and keeps
// the play history.
func (b *Bot) onPlayerEvent(ev player.Event) {
	switch ev.Kind {
	case player.EventTrackStart:
		if ev.Track != nil {
			_ = sys.AddPlayRecord(context.Background(), &sys.PlayRecord{
				GuildID:    ev.Key,
				UserID:     ev.Track.RequestedBy,
				Title:      ev.Track.Title,
				URL:        ev.Track.URL,
				Source:     string(ev.Track.Source),
				DurationMS: ev.Track.DurationMS,
			})
		}
	case player.EventQueueEnd:
		sys.LogPlayer("Queue finished for %s", ev.Key)
	case player.EventSessionDestroyed:
		b.connector.forget(ev.Key)
	case player.EventStreamError, player.EventConnectionTimeout, player.EventError:
		sys.LogError("Playback failure in %s: %v", ev.Key, ev.Err)
	}
}

// onVoiceStateUpdate feeds channel membership into the idle policy and tears
// the session down when the bot itself is disconnected.
func (b *Bot) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	guildID := event.VoiceState.GuildID

	if event.VoiceState.UserID == event.Client().ID() {
		if event.VoiceState.ChannelID == nil {
			b.orchestrator.DeleteSession(guildID)
			b.connector.forget(guildID)
		} else {
			b.connector.setChannel(guildID, *event.VoiceState.ChannelID)
		}
		return
	}

	sess := b.orchestrator.Session(guildID)
	if sess == nil {
		return
	}
	channelID, ok := b.connector.channel(guildID)
	if !ok {
		return
	}

	humanCount := 0
	for state := range event.Client().Caches.VoiceStates(guildID) {
		if state.ChannelID != nil && *state.ChannelID == channelID && state.UserID != event.Client().ID() {
			if m, ok := event.Client().Caches.Member(guildID, state.UserID); !ok || !m.User.Bot {
				humanCount++
			}
		}
	}
	_ = sess.MembershipChanged(humanCount == 0)
}

// registerCommands syncs the slash commands, to one guild in development or
// globally otherwise.
func (b *Bot) registerCommands(guildIDStr string) error {
	if guildIDStr != "" {
		guildID, err := snowflake.Parse(guildIDStr)
		if err != nil {
			return fmt.Errorf("invalid GUILD_ID: %w", err)
		}
		sys.LogLoader(sys.MsgLoaderGuildRegister, guildIDStr)
		created, err := b.client.Rest.SetGuildCommands(b.client.ApplicationID, guildID, commands())
		if err != nil {
			return err
		}
		for _, cmd := range created {
			sys.LogLoader(sys.MsgLoaderCommandRegistered, cmd.Name())
		}
		return nil
	}

	sys.LogLoader(sys.MsgLoaderRegisteringGlobal)
	created, err := b.client.Rest.SetGlobalCommands(b.client.ApplicationID, commands())
	if err != nil {
		return err
	}
	for _, cmd := range created {
		sys.LogLoader(sys.MsgLoaderGlobalRegistered, cmd.Name())
	}
	return nil
}

func (b *Bot) onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	safeGo(func() { b.handleCommand(event, data) })
}

func (b *Bot) onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	if event.Data.CommandName != "play" {
		return
	}
	safeGo(func() { b.handlePlayAutocomplete(event) })
}

func safeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sys.LogError("Panic recovered in handler: %v", r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// voiceConnector adapts disgo's voice manager to the player's Connector
// contract. The destination key is the guild id; the target voice channel is
// recorded by the play command before the session connects.
type voiceConnector struct {
	client bot.Client

	mu       sync.Mutex
	channels map[snowflake.ID]snowflake.ID
}

func (c *voiceConnector) setChannel(guildID, channelID snowflake.ID) {
	c.mu.Lock()
	c.channels[guildID] = channelID
	c.mu.Unlock()
}

func (c *voiceConnector) channel(guildID snowflake.ID) (snowflake.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.channels[guildID]
	return id, ok
}

func (c *voiceConnector) forget(guildID snowflake.ID) {
	c.mu.Lock()
	delete(c.channels, guildID)
	c.mu.Unlock()
}

func (c *voiceConnector) OpenConn(ctx context.Context, key snowflake.ID, deafened bool) (player.Conn, error) {
	channelID, ok := c.channel(key)
	if !ok {
		return nil, player.ErrNotConnected
	}
	conn := c.client.VoiceManager.CreateConn(key)
	if err := conn.Open(ctx, channelID, false, deafened); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return &voiceConn{conn: conn}, nil
}

// voiceConn narrows disgo's voice.Conn to the player's Conn contract.
type voiceConn struct {
	conn voice.Conn
}

func (v *voiceConn) SetOpusFrameProvider(p player.OpusFrameProvider) {
	if p == nil {
		v.conn.SetOpusFrameProvider(nil)
		return
	}
	v.conn.SetOpusFrameProvider(p)
}

func (v *voiceConn) SetSpeaking(ctx context.Context, speaking bool) error {
	flag := voice.SpeakingFlagNone
	if speaking {
		flag = voice.SpeakingFlagMicrophone
	}
	return v.conn.SetSpeaking(ctx, flag)
}

func (v *voiceConn) Close(ctx context.Context) {
	v.conn.Close(ctx)
}
