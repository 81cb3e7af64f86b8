package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel carries {type, table, id, user_id} for every trade write.
const notifyChannel = "trade_changes"

// Migrate creates the trade table and its change trigger.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`create table if not exists trades (
			id text primary key,
			user_id text not null,
			date date not null,
			pair text not null,
			direction text not null check (direction in ('Long', 'Short')),
			session text not null default '',
			strategy text not null default '',
			risk numeric not null,
			result_r numeric not null,
			result_usd numeric not null,
			setup_tag text,
			mood text check (mood is null or mood in ('Calm', 'Focused', 'Tilted', 'Revenge', 'Fearful')),
			screenshot_url text,
			notes text,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);`,
		`create index if not exists idx_trades_user_date on trades(user_id, date);`,
		`create or replace function notify_trade_change() returns trigger as $$
		declare
			rec record;
		begin
			if (tg_op = 'DELETE') then
				rec := old;
			else
				rec := new;
			end if;
			perform pg_notify('` + notifyChannel + `', json_build_object(
				'type', tg_op,
				'table', tg_table_name,
				'id', rec.id,
				'user_id', rec.user_id
			)::text);
			return null;
		end;
		$$ language plpgsql;`,
		`drop trigger if exists trades_notify on trades;`,
		`create trigger trades_notify after insert or update or delete on trades
			for each row execute function notify_trade_change();`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
