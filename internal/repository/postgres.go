// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/rewardbot/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сбоях сериализации и дедлоках.
// Любые другие ошибки возвращаются сразу, без повторов.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт пользователя при первом контакте и возвращает
// признак того, что запись действительно была создана этим вызовом.
// Повторный вызов для существующего пользователя ничего не меняет.
func (r *PostgresRepository) CreateUser(ctx context.Context, id int64, username, firstName string, referredBy *int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, first_name, referred_by)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		id, username, firstName, referredBy,
	)
	if err != nil {
		return false, fmt.Errorf("create user: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, first_name, balance, referred_by, is_blocked, state, scratch, created_at
		 FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.Balance, &u.ReferredBy, &u.IsBlocked, &u.State, &u.Scratch, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// ApplyDelta атомарно изменяет баланс пользователя на указанную
// величину. Единственный способ изменить баланс — этот инкремент на
// уровне хранилища, поэтому параллельные дельты не теряются.
func (r *PostgresRepository) ApplyDelta(ctx context.Context, userID, delta int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET balance = balance + $1 WHERE id = $2`,
		delta, userID,
	)
	if err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetBalance возвращает снимок баланса пользователя в пойшах.
// Значение может устареть относительно параллельных дельт.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// SetDialogState сохраняет состояние диалога и накопленные значения.
// Запись выполняется до отправки следующего запроса пользователю,
// поэтому рестарт процесса продолжает поток с того же шага.
func (r *PostgresRepository) SetDialogState(ctx context.Context, userID int64, state model.State, scratch model.Scratch) error {
	if scratch == nil {
		scratch = model.Scratch{}
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET state = $1, scratch = $2 WHERE id = $3`,
		state, scratch, userID,
	)
	if err != nil {
		return fmt.Errorf("set dialog state: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetBlocked включает или снимает блокировку пользователя.
func (r *PostgresRepository) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_blocked = $1 WHERE id = $2`,
		blocked, userID,
	)
	if err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser удаляет пользователя и связанные с ним записи. Операция
// терминальная и необратимая.
func (r *PostgresRepository) DeleteUser(ctx context.Context, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ForEachUserID потоково перебирает идентификаторы незаблокированных
// пользователей. Ошибка из fn прерывает перебор.
func (r *PostgresRepository) ForEachUserID(ctx context.Context, fn func(id int64) error) error {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE NOT is_blocked ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("select user ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan user id: %w", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

// CountUsers возвращает общее число зарегистрированных пользователей.
func (r *PostgresRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// GetLiability возвращает сводку обязательств: число пользователей,
// сумму балансов и сумму ожидающих выплат.
func (r *PostgresRepository) GetLiability(ctx context.Context) (*model.LiabilityReport, error) {
	var rep model.LiabilityReport

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM users`,
	).Scan(&rep.UserCount, &rep.TotalBalance)
	if err != nil {
		return nil, fmt.Errorf("sum balances: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payout_requests WHERE status = $1`,
		string(model.PayoutStatusPending),
	).Scan(&rep.PendingPayouts)
	if err != nil {
		return nil, fmt.Errorf("sum pending payouts: %w", err)
	}

	return &rep, nil
}

// CreateWorkItem сохраняет заявленную работу со статусом pending.
func (r *PostgresRepository) CreateWorkItem(ctx context.Context, userID int64, kind model.WorkKind, payload map[string]string) (int64, error) {
	if payload == nil {
		payload = map[string]string{}
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO work_items (user_id, kind, payload, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		userID, string(kind), payload, string(model.WorkStatusPending),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert work item: %w", err)
	}
	return id, nil
}

// ResolveWorkItem переводит работу из pending в approved или rejected
// ровно один раз. Защита от повторного разрешения — условный UPDATE по
// статусу: второй модератор получает ResolutionAlreadyResolved и не
// порождает побочных эффектов. Начисление вознаграждения выполняется
// в той же транзакции, что и смена статуса.
func (r *PostgresRepository) ResolveWorkItem(ctx context.Context, id int64, approve bool, moderatorID, reward int64) (model.Resolution, int64, error) {
	var outcome model.Resolution
	var submitterID int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		newStatus := model.WorkStatusRejected
		if approve {
			newStatus = model.WorkStatusApproved
		}

		err = tx.QueryRow(ctx,
			`UPDATE work_items SET status = $1, resolved_by = $2
			 WHERE id = $3 AND status = $4
			 RETURNING user_id`,
			string(newStatus), moderatorID, id, string(model.WorkStatusPending),
		).Scan(&submitterID)

		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM work_items WHERE id = $1)`, id,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check work item: %w", err)
			}
			if exists {
				outcome = model.ResolutionAlreadyResolved
			} else {
				outcome = model.ResolutionNotFound
			}
			return tx.Commit(ctx)
		}
		if err != nil {
			return fmt.Errorf("resolve work item: %w", err)
		}

		if approve && reward != 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET balance = balance + $1 WHERE id = $2`,
				reward, submitterID,
			); err != nil {
				return fmt.Errorf("credit reward: %w", err)
			}
		}

		outcome = model.ResolutionApplied
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, 0, err
	}

	return outcome, submitterID, nil
}

// ListPendingWorkItems возвращает работы, ожидающие проверки.
func (r *PostgresRepository) ListPendingWorkItems(ctx context.Context, limit int) ([]model.WorkItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, kind, payload, status, resolved_by, created_at
		 FROM work_items
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.WorkStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending work items: %w", err)
	}
	defer rows.Close()

	var res []model.WorkItem
	for rows.Next() {
		var w model.WorkItem
		if err := rows.Scan(&w.ID, &w.UserID, &w.Kind, &w.Payload, &w.Status, &w.ResolvedBy, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreatePayout создаёт заявку на выплату и списывает сумму с баланса
// в той же транзакции. Строка пользователя блокируется, чтобы две
// параллельные заявки не потратили один и тот же остаток: списание
// становится долговечным раньше, чем заявку увидят модераторы.
func (r *PostgresRepository) CreatePayout(ctx context.Context, userID, amount int64, method model.PayoutMethod, destination string) (int64, error) {
	var id int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance int64
		err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		if amount > balance {
			return ErrInsufficientBalance
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users SET balance = balance - $1 WHERE id = $2`,
			amount, userID,
		); err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO payout_requests (user_id, amount, method, destination, status)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			userID, amount, string(method), destination, string(model.PayoutStatusPending),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// ResolvePayout завершает заявку на выплату ровно один раз. Статус
// paid не трогает баланс (сумма списана при создании заявки), отказ
// возвращает сумму в той же транзакции, что и смена статуса.
func (r *PostgresRepository) ResolvePayout(ctx context.Context, id int64, paid bool, moderatorID int64) (model.Resolution, *model.PayoutRequest, error) {
	var outcome model.Resolution
	var payout model.PayoutRequest

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		newStatus := model.PayoutStatusRejected
		if paid {
			newStatus = model.PayoutStatusPaid
		}

		err = tx.QueryRow(ctx,
			`UPDATE payout_requests SET status = $1, resolved_by = $2
			 WHERE id = $3 AND status = $4
			 RETURNING id, user_id, amount, method, destination, status, resolved_by, created_at`,
			string(newStatus), moderatorID, id, string(model.PayoutStatusPending),
		).Scan(&payout.ID, &payout.UserID, &payout.Amount, &payout.Method,
			&payout.Destination, &payout.Status, &payout.ResolvedBy, &payout.CreatedAt)

		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM payout_requests WHERE id = $1)`, id,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check payout: %w", err)
			}
			if exists {
				outcome = model.ResolutionAlreadyResolved
			} else {
				outcome = model.ResolutionNotFound
			}
			return tx.Commit(ctx)
		}
		if err != nil {
			return fmt.Errorf("resolve payout: %w", err)
		}

		if !paid {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET balance = balance + $1 WHERE id = $2`,
				payout.Amount, payout.UserID,
			); err != nil {
				return fmt.Errorf("refund payout: %w", err)
			}
		}

		outcome = model.ResolutionApplied
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, nil, err
	}

	if outcome != model.ResolutionApplied {
		return outcome, nil, nil
	}

	return outcome, &payout, nil
}

// ListPendingPayouts возвращает заявки на выплату, ожидающие решения.
func (r *PostgresRepository) ListPendingPayouts(ctx context.Context, limit int) ([]model.PayoutRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, method, destination, status, resolved_by, created_at
		 FROM payout_requests
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.PayoutStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending payouts: %w", err)
	}
	defer rows.Close()

	var res []model.PayoutRequest
	for rows.Next() {
		var p model.PayoutRequest
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.Method, &p.Destination, &p.Status, &p.ResolvedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AddModerator выдаёт право модерации и возвращает признак того, что
// запись была создана этим вызовом.
func (r *PostgresRepository) AddModerator(ctx context.Context, userID, grantedBy int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO moderators (user_id, granted_by)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, grantedBy,
	)
	if err != nil {
		return false, fmt.Errorf("add moderator: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// RemoveModerator отзывает право модерации.
func (r *PostgresRepository) RemoveModerator(ctx context.Context, userID int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM moderators WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("remove moderator: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// HasModerator проверяет наличие делегированного права модерации.
func (r *PostgresRepository) HasModerator(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM moderators WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check moderator: %w", err)
	}
	return exists, nil
}

// GetSettings возвращает глобальные настройки программы.
func (r *PostgresRepository) GetSettings(ctx context.Context) (*model.Settings, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT task_reward, referral_bonus, min_withdrawal, support_contact, payment_channel, guide_text
		 FROM settings`,
	)

	var s model.Settings
	err := row.Scan(&s.TaskReward, &s.ReferralBonus, &s.MinWithdrawal, &s.SupportContact, &s.PaymentChannel, &s.GuideText)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	return &s, nil
}

// UpdateSettings перезаписывает единственную строку настроек.
func (r *PostgresRepository) UpdateSettings(ctx context.Context, s *model.Settings) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE settings SET task_reward = $1, referral_bonus = $2, min_withdrawal = $3,
		        support_contact = $4, payment_channel = $5, guide_text = $6`,
		s.TaskReward, s.ReferralBonus, s.MinWithdrawal, s.SupportContact, s.PaymentChannel, s.GuideText,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}
