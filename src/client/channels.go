package client

import (
	"context"

	"personal/discord_client/src/resources"
)

func (c *Client) GetChannel(ctx context.Context, channelID resources.Snowflake) (resources.Channel, error) {
	var channel resources.Channel
	if err := c.get(ctx, "/channels/"+channelID.String(), &channel); err != nil {
		return resources.Channel{}, err
	}
	return channel, nil
}
